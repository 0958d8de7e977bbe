package negotiation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quailyquaily/negotiant/internal/fsstore"
)

// FileStore persists contacts, exchanges and sessions as one JSON document
// per record under root. Updates are whole-record replaces through atomic
// renames; a single mutex serializes mutations, which is enough because the
// dispatcher already serializes per-contact work.
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) Ensure(ctx context.Context) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range []string{s.contactsDir(), s.exchangesDir(), s.sessionsDir()} {
		if err := fsstore.EnsureDir(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) GetContact(ctx context.Context, contactID string) (Contact, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Contact{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.contactsDir(), contactID)
	if err != nil {
		return Contact{}, false, err
	}
	var contact Contact
	ok, err := fsstore.ReadJSON(path, &contact)
	if err != nil {
		return Contact{}, false, err
	}
	return contact, ok, nil
}

func (s *FileStore) PutContact(ctx context.Context, contact Contact) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if err := contact.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.contactsDir(), contact.ContactID)
	if err != nil {
		return err
	}
	return fsstore.WriteJSONAtomic(path, contact, fsstore.FileOptions{})
}

func (s *FileStore) ListContacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := s.listRecords(ctx, s.contactsDir(), func(path string) error {
		var contact Contact
		ok, err := fsstore.ReadJSON(path, &contact)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, contact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (s *FileStore) GetExchange(ctx context.Context, exchangeID string) (Exchange, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Exchange{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.exchangesDir(), exchangeID)
	if err != nil {
		return Exchange{}, false, err
	}
	var exchange Exchange
	ok, err := fsstore.ReadJSON(path, &exchange)
	if err != nil {
		return Exchange{}, false, err
	}
	return exchange, ok, nil
}

func (s *FileStore) PutExchange(ctx context.Context, exchange Exchange) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(exchange.ID) == "" {
		return fmt.Errorf("exchange id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.exchangesDir(), exchange.ID)
	if err != nil {
		return err
	}
	return fsstore.WriteJSONAtomic(path, exchange, fsstore.FileOptions{})
}

func (s *FileStore) ListExchanges(ctx context.Context) ([]Exchange, error) {
	var out []Exchange
	err := s.listRecords(ctx, s.exchangesDir(), func(path string) error {
		var exchange Exchange
		ok, err := fsstore.ReadJSON(path, &exchange)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, exchange)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) GetSession(ctx context.Context, contactID string) (ConversationContext, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return ConversationContext{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.sessionsDir(), contactID)
	if err != nil {
		return ConversationContext{}, false, err
	}
	var session ConversationContext
	ok, err := fsstore.ReadJSON(path, &session)
	if err != nil {
		return ConversationContext{}, false, err
	}
	return session, ok, nil
}

func (s *FileStore) PutSession(ctx context.Context, session ConversationContext) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(session.ContactID) == "" {
		return fmt.Errorf("session contact_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.sessionsDir(), session.ContactID)
	if err != nil {
		return err
	}
	return fsstore.WriteJSONAtomic(path, session, fsstore.FileOptions{})
}

func (s *FileStore) DeleteSession(ctx context.Context, contactID string) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.recordPath(s.sessionsDir(), contactID)
	if err != nil {
		return err
	}
	return fsstore.Remove(path)
}

func (s *FileStore) ListSessions(ctx context.Context) ([]ConversationContext, error) {
	var out []ConversationContext
	err := s.listRecords(ctx, s.sessionsDir(), func(path string) error {
		var session ConversationContext
		ok, err := fsstore.ReadJSON(path, &session)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (s *FileStore) listRecords(ctx context.Context, dir string, visit func(path string) error) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list records %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := visit(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) rootPath() string {
	return s.root
}

func (s *FileStore) contactsDir() string {
	return filepath.Join(s.rootPath(), "contacts")
}

func (s *FileStore) exchangesDir() string {
	return filepath.Join(s.rootPath(), "exchanges")
}

func (s *FileStore) sessionsDir() string {
	return filepath.Join(s.rootPath(), "sessions")
}

func (s *FileStore) recordPath(dir, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("record id is required")
	}
	return filepath.Join(dir, sanitizeRecordID(id)+".json"), nil
}

// sanitizeRecordID keeps record ids filesystem-safe while staying readable.
func sanitizeRecordID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func ensureNotCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
