// Package history persists the conversation: one JSONL transcript per
// chat plus a chromem vector index for semantic recall of older
// exchanges. A single worker goroutine owns all file and index access,
// so callers never race on the transcript files.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
)

const (
	DirectionUser = "user"
	DirectionBot  = "bot"
)

// Message is one transcript line.
type Message struct {
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
	UpdateID  int64     `json:"update_id,omitempty"`
}

type Operation int

const (
	OpAppend Operation = iota
	OpRead
	OpArchive
	OpUpsertVector
	OpSearchVectors
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type AppendPayload struct {
	ChatID  int64
	Message Message
}

type ReadPayload struct {
	ChatID int64
	Limit  int // 0 = all
}

type ArchivePayload struct {
	ChatID int64
}

type UpsertVectorPayload struct {
	ChatID   int64
	ID       string
	Vector   []float32
	Metadata map[string]string
	Content  string
}

type SearchVectorsPayload struct {
	ChatID int64
	Vector []float32
	Limit  int
}

type VectorResult struct {
	ID       string
	Score    float32
	Metadata map[string]string
	Content  string
}

// Options configures a Store.
type Options struct {
	Dir            string // transcript directory
	VectorDir      string // chromem persistence directory, empty disables recall
	RotateMaxBytes int64
	InboxSize      int
	Clock          clock.Clock
}

type Store struct {
	dir            string
	rotateMaxBytes int64
	clk            clock.Clock
	inbox          chan Request
	quit           chan struct{}
	wg             sync.WaitGroup
	vectorDB       *chromem.DB
}

const (
	defaultInboxSize      = 64
	defaultRotateMaxBytes = 10 * 1024 * 1024
)

// NewStore prepares the transcript directory and vector index. Call
// Start before use.
func NewStore(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("history: transcript directory required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history dir %s: %w", opts.Dir, err)
	}
	if opts.RotateMaxBytes <= 0 {
		opts.RotateMaxBytes = defaultRotateMaxBytes
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}

	s := &Store{
		dir:            opts.Dir,
		rotateMaxBytes: opts.RotateMaxBytes,
		clk:            opts.Clock,
		inbox:          make(chan Request, opts.InboxSize),
		quit:           make(chan struct{}),
	}

	if opts.VectorDir != "" {
		if err := os.MkdirAll(opts.VectorDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector dir: %w", err)
		}
		// Embeddings are computed by the caller, so chromem never needs
		// an embedding func of its own.
		db, err := chromem.NewPersistentDB(opts.VectorDir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to init vector db: %w", err)
		}
		s.vectorDB = db
	}
	return s, nil
}

func (s *Store) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Store) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Store) loop() {
	slog.Info("History worker started", "dir", s.dir)
	defer s.wg.Done()

	for {
		select {
		case req := <-s.inbox:
			err := s.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-s.quit:
			slog.Info("History worker stopping")
			return
		}
	}
}

func (s *Store) handle(req Request) error {
	switch req.Op {
	case OpAppend:
		p, ok := req.Payload.(AppendPayload)
		if !ok {
			return fmt.Errorf("invalid payload for Append")
		}
		return s.appendMessage(p.ChatID, p.Message)
	case OpRead:
		p, ok := req.Payload.(ReadPayload)
		if !ok {
			return fmt.Errorf("invalid payload for Read")
		}
		msgs, err := s.readMessages(p.ChatID, p.Limit)
		if req.Response != nil {
			req.Response <- msgs
		}
		return err
	case OpArchive:
		p, ok := req.Payload.(ArchivePayload)
		if !ok {
			return fmt.Errorf("invalid payload for Archive")
		}
		return s.archiveChat(p.ChatID)
	case OpUpsertVector:
		p, ok := req.Payload.(UpsertVectorPayload)
		if !ok {
			return fmt.Errorf("invalid payload for UpsertVector")
		}
		return s.upsertVector(p)
	case OpSearchVectors:
		p, ok := req.Payload.(SearchVectorsPayload)
		if !ok {
			return fmt.Errorf("invalid payload for SearchVectors")
		}
		res, err := s.searchVectors(p)
		if req.Response != nil {
			req.Response <- res
		}
		return err
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (s *Store) transcriptPath(chatID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(chatID, 10)+".jsonl")
}

func (s *Store) appendMessage(chatID int64, msg Message) error {
	path := s.transcriptPath(chatID)

	if err := s.checkAndRotate(chatID, path); err != nil {
		slog.Warn("Failed to rotate transcript", "chat_id", chatID, "error", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Store) readMessages(chatID int64, limit int) ([]Message, error) {
	data, err := os.ReadFile(s.transcriptPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []Message{}, nil
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	msgs := make([]Message, 0, len(lines))
	for _, line := range lines {
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Warn("Skipping malformed transcript line", "chat_id", chatID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// archiveChat moves the active transcript aside. The conversation starts
// fresh while the old exchanges stay on disk.
func (s *Store) archiveChat(chatID int64) error {
	path := s.transcriptPath(chatID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return s.rotate(path)
}

func (s *Store) checkAndRotate(chatID int64, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < s.rotateMaxBytes {
		return nil
	}

	slog.Info("Rotating transcript", "chat_id", chatID, "size", info.Size())
	return s.rotate(path)
}

func (s *Store) rotate(path string) error {
	timestamp := s.clk.Now().Format("20060102150405")
	backupPath := fmt.Sprintf("%s.%s.bak", path, timestamp)

	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create new transcript: %w", err)
	}
	f.Close()
	return nil
}

func collectionName(chatID int64) string {
	return "chat-" + strconv.FormatInt(chatID, 10)
}

func (s *Store) upsertVector(p UpsertVectorPayload) error {
	if s.vectorDB == nil {
		return nil
	}
	col, err := s.vectorDB.GetOrCreateCollection(collectionName(p.ChatID), nil, nil)
	if err != nil {
		return err
	}
	// AddDocuments is upsert in chromem
	return col.AddDocuments(context.Background(), []chromem.Document{
		{
			ID:        p.ID,
			Metadata:  p.Metadata,
			Embedding: p.Vector,
			Content:   p.Content,
		},
	}, 1)
}

func (s *Store) searchVectors(p SearchVectorsPayload) ([]VectorResult, error) {
	if s.vectorDB == nil {
		return []VectorResult{}, nil
	}
	col := s.vectorDB.GetCollection(collectionName(p.ChatID), nil)
	if col == nil {
		return []VectorResult{}, nil
	}

	limit := p.Limit
	if count := col.Count(); limit > count {
		limit = count
	}
	if limit <= 0 {
		return []VectorResult{}, nil
	}

	docs, err := col.QueryEmbedding(context.Background(), p.Vector, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]VectorResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, VectorResult{
			ID:       doc.ID,
			Score:    doc.Similarity,
			Metadata: doc.Metadata,
			Content:  doc.Content,
		})
	}
	return results, nil
}

// Public API for other components

// Append writes one message to the chat transcript.
func (s *Store) Append(chatID int64, msg Message) error {
	res := make(chan error, 1)
	s.inbox <- Request{
		Op:      OpAppend,
		Payload: AppendPayload{ChatID: chatID, Message: msg},
		Result:  res,
	}
	return <-res
}

// RecordUser appends an incoming user message.
func (s *Store) RecordUser(chatID, updateID int64, text string) error {
	return s.Append(chatID, Message{
		Direction: DirectionUser,
		Text:      text,
		At:        s.clk.Now().UTC(),
		UpdateID:  updateID,
	})
}

// RecordBot appends an outgoing bot message.
func (s *Store) RecordBot(chatID int64, text string) error {
	return s.Append(chatID, Message{
		Direction: DirectionBot,
		Text:      text,
		At:        s.clk.Now().UTC(),
	})
}

// Recent returns the last limit messages of the chat, oldest first.
// Limit zero returns the whole transcript.
func (s *Store) Recent(chatID int64, limit int) ([]Message, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	s.inbox <- Request{
		Op:       OpRead,
		Payload:  ReadPayload{ChatID: chatID, Limit: limit},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	return val.([]Message), nil
}

// Archive rotates the chat transcript aside, starting a fresh one.
func (s *Store) Archive(chatID int64) error {
	res := make(chan error, 1)
	s.inbox <- Request{
		Op:      OpArchive,
		Payload: ArchivePayload{ChatID: chatID},
		Result:  res,
	}
	return <-res
}

// UpsertVector stores an embedded exchange for later recall.
func (s *Store) UpsertVector(chatID int64, id string, vector []float32, metadata map[string]string, content string) error {
	res := make(chan error, 1)
	s.inbox <- Request{
		Op: OpUpsertVector,
		Payload: UpsertVectorPayload{
			ChatID:   chatID,
			ID:       id,
			Vector:   vector,
			Metadata: metadata,
			Content:  content,
		},
		Result: res,
	}
	return <-res
}

// SearchVectors returns the stored exchanges closest to vector.
func (s *Store) SearchVectors(chatID int64, vector []float32, limit int) ([]VectorResult, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	s.inbox <- Request{
		Op: OpSearchVectors,
		Payload: SearchVectorsPayload{
			ChatID: chatID,
			Vector: vector,
			Limit:  limit,
		},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	return val.([]VectorResult), nil
}
