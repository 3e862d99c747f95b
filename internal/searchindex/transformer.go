package searchindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Querier is the read surface the keyring needs; pgx pools and transactions satisfy it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Decrypter opens a tenant's mapping blob.
type Decrypter interface {
	DecryptString(ciphertext string) (string, error)
}

var ErrTenantNotFound = errors.New("searchindex: tenant not found")

// Transformer applies one tenant's mapping.
type Transformer struct {
	tenantID uuid.UUID
	mapping  Mapping
}

// NewTransformer binds a mapping to a tenant.
func NewTransformer(tenantID uuid.UUID, m Mapping) *Transformer {
	return &Transformer{tenantID: tenantID, mapping: m}
}

// TenantID reports the tenant this transformer belongs to.
func (t *Transformer) TenantID() uuid.UUID { return t.tenantID }

// BuildShadow computes the value stored next to an encrypted field at write time.
func (t *Transformer) BuildShadow(plaintext string) string {
	return t.mapping.Apply(plaintext)
}

// TransformQuery maps a search term into shadow space.
func (t *Transformer) TransformQuery(term string) string {
	return t.mapping.Apply(term)
}

// LikePattern returns a %term% pattern over the transformed term with LIKE
// metacharacters escaped.
func (t *Transformer) LikePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(t.TransformQuery(term)) + "%"
}

// Keyring loads and decrypts tenant mappings.
type Keyring struct {
	decrypter Decrypter
}

// NewKeyring constructs a keyring.
func NewKeyring(decrypter Decrypter) *Keyring {
	if decrypter == nil {
		panic("searchindex: decrypter required")
	}
	return &Keyring{decrypter: decrypter}
}

// ForTenant returns the tenant's transformer. Within a session started by
// WithSession the mapping is decrypted at most once.
func (k *Keyring) ForTenant(ctx context.Context, q Querier, tenantID uuid.UUID) (*Transformer, error) {
	sess := sessionFrom(ctx)
	if sess != nil {
		if t, ok := sess.get(tenantID); ok {
			return t, nil
		}
	}

	var blob *string
	err := q.QueryRow(ctx, `SELECT search_mapping FROM tenants WHERE id = $1`, tenantID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("searchindex: load mapping: %w", err)
	}

	var m Mapping
	if blob == nil || *blob == "" {
		m, _ = NewMapping(nil)
	} else {
		plain, err := k.decrypter.DecryptString(*blob)
		if err != nil {
			return nil, fmt.Errorf("searchindex: decrypt mapping: %w", err)
		}
		m, err = ParseMapping([]byte(plain))
		if err != nil {
			return nil, err
		}
	}

	t := NewTransformer(tenantID, m)
	if sess != nil {
		sess.put(t)
	}
	return t, nil
}

type sessionKey struct{}

type session struct {
	mu    sync.Mutex
	cache map[uuid.UUID]*Transformer
}

func (s *session) get(id uuid.UUID) (*Transformer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.cache[id]
	return t, ok
}

func (s *session) put(t *Transformer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[t.tenantID] = t
}

// WithSession scopes mapping reuse to ctx. Handlers start one per request.
func WithSession(ctx context.Context) context.Context {
	if sessionFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, &session{cache: map[uuid.UUID]*Transformer{}})
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}
