package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// backupVersion is bumped when the blob layout changes incompatibly.
const backupVersion = 1

// backup is the CBOR layout of an exported client registry.
type backup struct {
	Version    int            `cbor:"1,keyasint"`
	ExportedAt time.Time      `cbor:"2,keyasint"`
	Clients    []ClientRecord `cbor:"3,keyasint"`
}

var (
	backupEncMode cbor.EncMode
	backupDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339
	backupEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("auth: CBOR encoder initialization failed: " + err.Error())
	}

	backupDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("auth: CBOR decoder initialization failed: " + err.Error())
	}
}

// Export serialises every client record (token hashes included) into an
// opaque blob suitable for backup.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	data, err := backupEncMode.Marshal(backup{
		Version:    backupVersion,
		ExportedAt: s.now().UTC().Truncate(time.Second),
		Clients:    recs,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding backup: %w", err)
	}
	return data, nil
}

// Import merges a blob produced by Export. Existing records keep their
// data; revocations in the blob are applied. With the unique-name policy
// on, a blob whose new records clash by name with each other or with
// existing clients is rejected as a whole with ErrDuplicateName. Returns
// the number of new records.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	var b backup
	if err := backupDecMode.Unmarshal(data, &b); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	if b.Version != backupVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidBackup, b.Version)
	}
	for _, rec := range b.Clients {
		if rec.ID == "" || rec.TokenHash == "" {
			return 0, fmt.Errorf("%w: record without id or token hash", ErrInvalidBackup)
		}
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if s.uniqueNames {
		if err := s.checkImportedNames(ctx, b.Clients); err != nil {
			return 0, err
		}
	}

	n, err := s.repo.Import(ctx, b.Clients)
	if err != nil {
		return 0, err
	}
	if err := s.RefreshCache(ctx); err != nil {
		return n, err
	}

	s.logger.Info("client registry restored", "records", len(b.Clients), "inserted", n)

	// Restored revocations must close live channels too.
	s.listenerMu.RLock()
	listeners := append([]func(string){}, s.onRevoke...)
	s.listenerMu.RUnlock()
	for _, rec := range b.Clients {
		if !rec.Revoked {
			continue
		}
		for _, fn := range listeners {
			fn(rec.ID)
		}
	}
	return n, nil
}

// checkImportedNames applies the unique-name policy to the records of recs
// that are not yet stored. Callers hold registerMu.
func (s *Service) checkImportedNames(ctx context.Context, recs []ClientRecord) error {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(existing))
	names := make(map[string]struct{}, len(existing)+len(recs))
	for _, rec := range existing {
		ids[rec.ID] = struct{}{}
		names[strings.ToLower(rec.Name)] = struct{}{}
	}
	for _, rec := range recs {
		if _, ok := ids[rec.ID]; ok {
			continue
		}
		key := strings.ToLower(rec.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateName, rec.Name)
		}
		names[key] = struct{}{}
		ids[rec.ID] = struct{}{}
	}
	return nil
}
