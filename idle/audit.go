package idle

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one row of the idle-lock audit sink: (day, hostname, ts, locked,
// active), per spec §6.
type Event struct {
	Day      string    `json:"day"`
	HostName string    `json:"hostname"`
	Ts       time.Time `json:"ts"`
	Locked   bool      `json:"locked"`
	Active   bool      `json:"active"`
}

// AuditSink is a time-series insert-only store for idle-lock transitions,
// backed by BuntDB — an embedded ordered key/value store with native
// per-key TTL, used here exactly for the ~6 month expiry spec §6 calls for.
// Delivery is fire-and-forget: callers log and swallow Insert errors.
type AuditSink struct {
	db  *buntdb.DB
	ttl time.Duration
}

// OpenAuditSink opens (or creates) the on-disk BuntDB file at path with the
// given TTL for every inserted row.
func OpenAuditSink(path string, ttl time.Duration) (*AuditSink, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("idle: open audit sink %s: %w", path, err)
	}
	if err := db.CreateIndex("day", "*", buntdb.IndexJSON("day")); err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		return nil, fmt.Errorf("idle: create day index: %w", err)
	}
	return &AuditSink{db: db, ttl: ttl}, nil
}

func (a *AuditSink) Close() error { return a.db.Close() }

// Insert writes one audit row with the sink's configured TTL.
func (a *AuditSink) Insert(e Event) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s/%d", e.Day, e.HostName, e.Ts.UnixNano())
	return a.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(buf), &buntdb.SetOptions{Expires: true, TTL: a.ttl})
		return err
	})
}

// ForDay returns every audit row recorded for the given "2006-01-02" day,
// ordered by the day index.
func (a *AuditSink) ForDay(day string) ([]Event, error) {
	var out []Event
	err := a.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("day", func(key, value string) bool {
			var e Event
			if jsonErr := json.Unmarshal([]byte(value), &e); jsonErr == nil && e.Day == day {
				out = append(out, e)
			}
			return true
		})
	})
	return out, err
}
