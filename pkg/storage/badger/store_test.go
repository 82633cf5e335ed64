package badger_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/agrisync/pkg/storage"
	"github.com/marmos91/agrisync/pkg/storage/badger"
	"github.com/marmos91/agrisync/pkg/storage/storagetest"
)

func open(t *testing.T, dir string) storage.Store {
	t.Helper()
	s, err := badger.New(badger.Config{Path: filepath.Join(dir, "db"), SequenceBandwidth: 4})
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storagetest.RunConformanceSuite(t, func(t *testing.T) storage.Store {
		s := open(t, t.TempDir())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestDurability(t *testing.T) {
	storagetest.RunDurabilitySuite(t, open)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := badger.New(badger.Config{})
	require.Error(t, err)
}
