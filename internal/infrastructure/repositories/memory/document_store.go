package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/pkg/utils"
)

var ErrStoreClosed = errors.New("document store closed")

type docSub struct {
	id int
	fn func(ports.Fields)
}

type colSub struct {
	id int
	fn func(ports.DocumentChange)
}

// collection keeps document ids in creation order so subscription
// snapshots replay deterministically.
type collection struct {
	order []string
}

func (c *collection) remove(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// MemoryDocumentStore is an in-process DocumentStore. Notifications are
// delivered synchronously on the writer's goroutine once the store lock has
// been released, so handlers may call back into the store.
type MemoryDocumentStore struct {
	mu          sync.Mutex
	docs        map[string]ports.Fields
	collections map[string]*collection
	docSubs     map[string][]docSub
	colSubs     map[string][]colSub
	nextSub     int
	closed      bool
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:        make(map[string]ports.Fields),
		collections: make(map[string]*collection),
		docSubs:     make(map[string][]docSub),
		colSubs:     make(map[string][]colSub),
	}
}

func normalize(path string) string {
	return strings.Trim(path, "/")
}

func (s *MemoryDocumentStore) CreateDocument(ctx context.Context, path string, fields ports.Fields) error {
	return s.write(ctx, path, fields, false)
}

func (s *MemoryDocumentStore) MergeDocument(ctx context.Context, path string, fields ports.Fields) error {
	return s.write(ctx, path, fields, true)
}

func (s *MemoryDocumentStore) write(ctx context.Context, path string, fields ports.Fields, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = normalize(path)
	if path == "" {
		return domain.ErrInvalidDocument
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}

	existing, existed := s.docs[path]
	var body ports.Fields
	if merge && existed {
		body = copyFields(existing)
		for k, v := range fields {
			body[k] = copyValue(v)
		}
	} else {
		body = copyFields(fields)
	}
	s.docs[path] = body

	parent, id := utils.SplitPath(path)
	if !existed {
		col := s.collections[parent]
		if col == nil {
			col = &collection{}
			s.collections[parent] = col
		}
		col.order = append(col.order, id)
	}

	docFns := s.docHandlers(path)
	var colFns []func(ports.DocumentChange)
	if !existed {
		colFns = s.colHandlers(parent)
	}
	s.mu.Unlock()

	for _, fn := range docFns {
		fn(copyFields(body))
	}
	for _, fn := range colFns {
		fn(ports.DocumentChange{Type: ports.ChangeAdded, ID: id, Fields: copyFields(body)})
	}
	return nil
}

func (s *MemoryDocumentStore) DeleteDocument(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = normalize(path)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	body, existed := s.docs[path]
	if !existed {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, path)

	parent, id := utils.SplitPath(path)
	if col := s.collections[parent]; col != nil {
		col.remove(id)
	}
	colFns := s.colHandlers(parent)
	s.mu.Unlock()

	for _, fn := range colFns {
		fn(ports.DocumentChange{Type: ports.ChangeRemoved, ID: id, Fields: copyFields(body)})
	}
	return nil
}

func (s *MemoryDocumentStore) AddToCollection(ctx context.Context, collectionPath string, fields ports.Fields) (string, error) {
	collectionPath = normalize(collectionPath)
	if collectionPath == "" {
		return "", domain.ErrInvalidDocument
	}
	id := utils.GenerateDocumentID()
	if err := s.CreateDocument(ctx, collectionPath+"/"+id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// GetDocument returns a copy of the document body.
func (s *MemoryDocumentStore) GetDocument(ctx context.Context, path string) (ports.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	body, ok := s.docs[normalize(path)]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return copyFields(body), nil
}

func (s *MemoryDocumentStore) SubscribeDocument(ctx context.Context, path string, onChange func(ports.Fields)) (ports.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = normalize(path)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.nextSub++
	id := s.nextSub
	s.docSubs[path] = append(s.docSubs[path], docSub{id: id, fn: onChange})
	body, exists := s.docs[path]
	var snapshot ports.Fields
	if exists {
		snapshot = copyFields(body)
	}
	s.mu.Unlock()

	if exists {
		onChange(snapshot)
	}

	return s.unsubscriber(func() {
		subs := s.docSubs[path]
		for i, sub := range subs {
			if sub.id == id {
				s.docSubs[path] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(s.docSubs[path]) == 0 {
			delete(s.docSubs, path)
		}
	}), nil
}

func (s *MemoryDocumentStore) SubscribeCollection(ctx context.Context, collectionPath string, onChange func(ports.DocumentChange)) (ports.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	collectionPath = normalize(collectionPath)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.nextSub++
	id := s.nextSub
	s.colSubs[collectionPath] = append(s.colSubs[collectionPath], colSub{id: id, fn: onChange})

	var snapshot []ports.DocumentChange
	if col := s.collections[collectionPath]; col != nil {
		for _, docID := range col.order {
			snapshot = append(snapshot, ports.DocumentChange{
				Type:   ports.ChangeAdded,
				ID:     docID,
				Fields: copyFields(s.docs[collectionPath+"/"+docID]),
			})
		}
	}
	s.mu.Unlock()

	for _, change := range snapshot {
		onChange(change)
	}

	return s.unsubscriber(func() {
		subs := s.colSubs[collectionPath]
		for i, sub := range subs {
			if sub.id == id {
				s.colSubs[collectionPath] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(s.colSubs[collectionPath]) == 0 {
			delete(s.colSubs, collectionPath)
		}
	}), nil
}

func (s *MemoryDocumentStore) unsubscriber(remove func()) ports.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			remove()
		})
	}
}

func (s *MemoryDocumentStore) docHandlers(path string) []func(ports.Fields) {
	subs := s.docSubs[path]
	fns := make([]func(ports.Fields), 0, len(subs))
	for _, sub := range subs {
		fns = append(fns, sub.fn)
	}
	return fns
}

func (s *MemoryDocumentStore) colHandlers(path string) []func(ports.DocumentChange) {
	subs := s.colSubs[path]
	fns := make([]func(ports.DocumentChange), 0, len(subs))
	for _, sub := range subs {
		fns = append(fns, sub.fn)
	}
	return fns
}

func (s *MemoryDocumentStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// Close drops every subscription. Later calls fail with ErrStoreClosed.
func (s *MemoryDocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.docSubs = make(map[string][]docSub)
	s.colSubs = make(map[string][]colSub)
	return nil
}

func copyFields(f ports.Fields) ports.Fields {
	if f == nil {
		return nil
	}
	out := make(ports.Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case ports.Fields:
		return copyFields(t)
	case map[string]interface{}:
		return map[string]interface{}(copyFields(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
