package registrar

import (
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const confirmedPrefix = "confirmed/"

// journal persists confirmed registrations so a restarted run can skip the
// chain query for credentials it already saw succeed. Losing it is harmless;
// re-attempting a registered credential is a cheap no-op on the chain side.
type journal struct {
	db *leveldb.DB
}

func openJournal(path string) (*journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal @ %s: %w", path, err)
	}
	return &journal{db: db}, nil
}

func (j *journal) Close() error {
	return j.db.Close()
}

func (j *journal) MarkConfirmed(cred Credential) error {
	key := []byte(confirmedPrefix + cred.String())
	value := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := j.db.Put(key, value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing confirmation for %s: %w", cred, err)
	}
	return nil
}

func (j *journal) Confirmed() ([]Credential, error) {
	var creds []Credential
	iter := j.db.NewIterator(util.BytesPrefix([]byte(confirmedPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		name := strings.TrimPrefix(string(iter.Key()), confirmedPrefix)
		coldkey, hotkey, found := strings.Cut(name, "/")
		if !found {
			continue
		}
		creds = append(creds, Credential{Coldkey: coldkey, Hotkey: hotkey})
	}
	if err := iter.Error(); err != nil {
		return creds, fmt.Errorf("iterating journal: %w", err)
	}
	return creds, nil
}
