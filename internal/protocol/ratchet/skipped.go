package ratchet

import (
	"time"

	"duet/internal/domain"
	"duet/internal/util/memzero"
)

// takeSkipped removes and returns the cached key for (key, n), if any.
func takeSkipped(st *domain.RatchetState, key domain.X25519Public, n uint32) ([]byte, bool) {
	for i, k := range st.Skipped {
		if k.Index == n && k.RatchetKey.Equal(key) {
			st.Skipped = append(st.Skipped[:i], st.Skipped[i+1:]...)
			return k.Key, true
		}
	}
	return nil, false
}

// skipTo caches message keys of c up to, not including, index until.
func skipTo(st *domain.RatchetState, c *domain.ChainState, until uint32, now time.Time) error {
	for c.Index < until {
		idx := c.Index
		mk, err := step(c)
		if err != nil {
			return err
		}
		st.Skipped = append(st.Skipped, domain.SkippedMessageKey{
			RatchetKey: c.RatchetKey,
			Index:      idx,
			Key:        mk,
			CreatedUTC: now.Unix(),
		})
	}
	return nil
}

// purgeSkipped drops cached keys older than ttl. A zero ttl keeps everything.
func purgeSkipped(st *domain.RatchetState, ttl time.Duration, now time.Time) int {
	if ttl <= 0 || len(st.Skipped) == 0 {
		return 0
	}
	cutoff := now.Add(-ttl).Unix()
	kept := st.Skipped[:0]
	purged := 0
	for _, k := range st.Skipped {
		if k.CreatedUTC < cutoff {
			memzero.Zero(k.Key)
			purged++
			continue
		}
		kept = append(kept, k)
	}
	st.Skipped = kept
	return purged
}
