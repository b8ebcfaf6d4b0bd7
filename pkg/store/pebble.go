package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"whisperchat/pkg/logger"
	"whisperchat/pkg/models"
)

// Key namespaces:
//   user:name:<identity>                 -> models.User JSON
//   user:seq                             -> last allocated numeric user id
//   pair:<a>|<b>:msg:<unix_nano>-<seq>   -> models.Message JSON (a < b)
//   partner:<identity>:<other>           -> <other> (conversation index, both directions)
//
// Identities are opaque strings, so every identity embedded in a key is
// hex-escaped first: otherwise delimiter-bearing names could make two
// distinct conversations share one key range.

var db *pebble.DB
var dbPath string

// ErrNotFound is returned for lookups of absent users or messages.
var ErrNotFound = errors.New("store: not found")

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// userMu serializes user creation end to end: the existence check, the id
// allocation and the record write all happen under it, so two concurrent
// first connections cannot double-allocate an identity.
var userMu sync.Mutex

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// keyEscape makes an identity safe for key embedding by hex-escaping the
// store's structural bytes.
func keyEscape(s string) string {
	if !strings.ContainsAny(s, "%:|") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '%', ':', '|':
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// pairKey returns the canonical conversation prefix for two identities.
// Both directions of a pair share one key range so a single scan covers
// the whole conversation.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%s|%s:msg:", keyEscape(a), keyEscape(b))
}

func userKey(name string) []byte {
	return []byte("user:name:" + keyEscape(name))
}

func partnerKey(identity, other string) []byte {
	return []byte("partner:" + keyEscape(identity) + ":" + keyEscape(other))
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	out = append(out, 0xff)
	return out
}

// FindUser returns the durable record for an identity, or ErrNotFound.
func FindUser(name string) (models.User, error) {
	var u models.User
	if db == nil {
		return u, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(userKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return u, ErrNotFound
		}
		return u, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &u); err != nil {
		return u, fmt.Errorf("corrupt user record for %s: %w", name, err)
	}
	return u, nil
}

// CreateUser allocates a numeric id and persists a record for the identity.
// It fails if the identity already exists.
func CreateUser(name string) (models.User, error) {
	var u models.User
	if db == nil {
		return u, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if name == "" {
		return u, fmt.Errorf("empty identity")
	}
	userMu.Lock()
	defer userMu.Unlock()
	if _, err := FindUser(name); err == nil {
		return u, fmt.Errorf("user %s already exists", name)
	} else if !errors.Is(err, ErrNotFound) {
		return u, err
	}

	id, err := nextUserIDLocked()
	if err != nil {
		return u, err
	}
	u = models.User{ID: id, Name: name, CreatedTS: time.Now().UTC().UnixNano()}
	b, err := json.Marshal(u)
	if err != nil {
		return u, err
	}
	if err := db.Set(userKey(name), b, pebble.Sync); err != nil {
		logger.Error("create_user_failed", "user", name, "error", err)
		return u, err
	}
	logger.Info("user_created", "user", name, "id", id)
	return u, nil
}

// EnsureUser returns the existing record for an identity, creating one on
// first sight.
func EnsureUser(name string) (models.User, error) {
	u, err := FindUser(name)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	u, err = CreateUser(name)
	if err == nil {
		return u, nil
	}
	// lost a concurrent creation race; the winner's record stands
	if u, ferr := FindUser(name); ferr == nil {
		return u, nil
	}
	return u, err
}

// nextUserIDLocked increments and persists the user id counter. Callers
// must hold userMu.
func nextUserIDLocked() (int64, error) {
	var last int64
	v, closer, err := db.Get([]byte("user:seq"))
	if err == nil {
		last, _ = strconv.ParseInt(string(v), 10, 64)
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return 0, err
	}
	next := last + 1
	if err := db.Set([]byte("user:seq"), []byte(strconv.FormatInt(next, 10)), pebble.Sync); err != nil {
		return 0, err
	}
	return next, nil
}

// SaveMessage persists a new message row with status sent and indexes the
// pair in both directions for partner resolution.
func SaveMessage(sender, recipient, body string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("%s%020d-%06d", pairKey(sender, recipient), ts, s)

	m = models.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		TS:        ts,
		Status:    models.StatusSent,
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to marshal message: %w", err)
	}

	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set([]byte(key), data, nil)
	_ = batch.Set(partnerKey(sender, recipient), []byte(recipient), nil)
	if recipient != sender {
		_ = batch.Set(partnerKey(recipient, sender), []byte(sender), nil)
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "key", key, "error", err)
		return m, err
	}
	logger.Debug("message_saved", "key", key, "msg_id", m.ID)
	return m, nil
}

// AdvanceStatus bulk-advances every message from sender to recipient still
// at the `from` status to `to`. Only forward lifecycle transitions are
// accepted. Returns the number of rows updated; a repeat call is a no-op.
func AdvanceStatus(sender, recipient string, from, to models.Status) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if !from.CanAdvanceTo(to) {
		return 0, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	prefix := []byte(pairKey(sender, recipient))
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batch := db.NewBatch()
	defer batch.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_corrupt_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		if m.Sender != sender || m.Recipient != recipient || m.Status != from {
			continue
		}
		m.Status = to
		nb, err := json.Marshal(m)
		if err != nil {
			return 0, err
		}
		_ = batch.Set(append([]byte{}, iter.Key()...), nb, nil)
		count++
	}
	if count == 0 {
		return 0, nil
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("advance_status_failed", "sender", sender, "recipient", recipient, "error", err)
		return 0, err
	}
	logger.Debug("status_advanced", "sender", sender, "recipient", recipient, "from", string(from), "to", string(to), "rows", count)
	return count, nil
}

// DistinctPartners returns every identity the user has exchanged at least
// one message with, in either direction, ordered ascending by the
// partner's internal id.
func DistinctPartners(name string) ([]models.User, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("partner:" + keyEscape(name) + ":")
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.User
	for iter.First(); iter.Valid(); iter.Next() {
		// the value carries the raw partner name; the key is escaped
		other := string(iter.Value())
		u, err := FindUser(other)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecentMessages returns up to limit most-recent messages between two
// identities, ordered ascending by creation time.
func RecentMessages(a, b string, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if limit <= 0 {
		return nil, nil
	}
	prefix := []byte(pairKey(a, b))
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	// Walk backwards from the newest row, then reverse so the caller gets
	// the window in chronological order.
	var out []models.Message
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_corrupt_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		if !betweenPair(m, a, b) {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// betweenPair reports whether the decoded row belongs to the conversation
// between a and b, in either direction.
func betweenPair(m models.Message, a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// PurgeMessagesBefore deletes message rows older than the cutoff across all
// pairs. Partner index entries are left in place; an empty conversation
// simply replays nothing. Used by the retention runner.
func PurgeMessagesBefore(cutoff time.Time) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("pair:")
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	cut := cutoff.UTC().UnixNano()
	batch := db.NewBatch()
	defer batch.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.TS < cut {
			_ = batch.Delete(append([]byte{}, iter.Key()...), nil)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("messages_purged", "rows", count, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return count, nil
}

// CountMessages returns the total number of persisted message rows. Used
// by the admin stats endpoint.
func CountMessages() (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("pair:")
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, nil
}
