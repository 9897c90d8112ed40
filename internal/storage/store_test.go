package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fragnation-bot/internal/models"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenInitializesEmptyDocument(t *testing.T) {
	s, path := tempStore(t)

	s.View(func(sn *models.Snapshot) {
		require.Empty(t, sn.Solos)
		require.Empty(t, sn.Teams)
		require.Empty(t, sn.Payments)
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, json.Valid(raw))
	// the document must stay human-inspectable
	require.Contains(t, string(raw), "\n  \"solos\"")
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	s, path := tempStore(t)

	err := s.Update(func(sn *models.Snapshot) error {
		sn.Solos["42"] = &models.SoloRegistration{UserID: 42, RealName: "Alice Smith", IGN: "AliceIGN"}
		sn.Payments[models.SoloPaymentKey(42)] = &models.PaymentRecord{Kind: models.KindSolo, UserID: 42, Status: models.StatusPending}
		return nil
	})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	reopened.View(func(sn *models.Snapshot) {
		require.Equal(t, "AliceIGN", sn.Solos["42"].IGN)
		require.Equal(t, models.StatusPending, sn.Payments["solo-42"].Status)
	})
}

func TestUpdateErrorChangesNothing(t *testing.T) {
	s, path := tempStore(t)

	require.NoError(t, s.Update(func(sn *models.Snapshot) error {
		sn.Teams["ABC123"] = &models.Team{JoinCode: "ABC123", TeamName: "Foxes", CaptainID: 1,
			Members: []*models.TeamMember{{UserID: 1}}}
		return nil
	}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	failErr := fmt.Errorf("validation failed")
	err = s.Update(func(sn *models.Snapshot) error {
		sn.Teams["ABC123"].TeamName = "mutated"
		delete(sn.Teams, "ABC123")
		return failErr
	})
	require.ErrorIs(t, err, failErr)

	s.View(func(sn *models.Snapshot) {
		require.Equal(t, "Foxes", sn.Teams["ABC123"].TeamName)
	})
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestOpenCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse")
}

func TestOpenFillsMissingCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"solos": {}}`), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	s.View(func(sn *models.Snapshot) {
		require.NotNil(t, sn.Teams)
		require.NotNil(t, sn.Payments)
	})
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s, _ := tempStore(t)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(func(sn *models.Snapshot) error {
				key := models.UserKey(int64(i))
				sn.Solos[key] = &models.SoloRegistration{UserID: int64(i)}
				return nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s.View(func(sn *models.Snapshot) {
		require.Len(t, sn.Solos, n)
	})
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.Update(func(sn *models.Snapshot) error {
		sn.Solos["7"] = &models.SoloRegistration{UserID: 7, IGN: "seven"}
		return nil
	}))

	copySn, err := s.Snapshot()
	require.NoError(t, err)
	copySn.Solos["7"].IGN = "mutated"
	copySn.Solos["8"] = &models.SoloRegistration{UserID: 8}

	s.View(func(sn *models.Snapshot) {
		require.Equal(t, "seven", sn.Solos["7"].IGN)
		require.NotContains(t, sn.Solos, "8")
	})
}

func TestWriteIsAtomicRename(t *testing.T) {
	s, path := tempStore(t)
	require.NoError(t, s.Update(func(sn *models.Snapshot) error {
		sn.Solos["1"] = &models.SoloRegistration{UserID: 1}
		return nil
	}))
	// no leftover temp file after a successful commit
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "stale temp file %s", e.Name())
	}
}
