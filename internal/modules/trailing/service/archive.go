package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	"trailbot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Archive — каталог с закрытыми позициями, один JSON-файл на позицию,
// имя — символ + таймстемп. Это единственный формат на диске, на который
// движок опирается сам (статистика читается отсюда же).
type Archive struct {
	dir string
}

func NewArchive(cfg *config.Config) (*Archive, error) {
	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create archive dir")
	}
	return &Archive{dir: cfg.ArchiveDir}, nil
}

func NewArchiveAt(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create archive dir")
	}
	return &Archive{dir: dir}, nil
}

func (a *Archive) Write(cp models.ClosedPosition) error {
	name := fmt.Sprintf("%s_%d.json",
		strings.ReplaceAll(cp.Symbol, "/", "-"),
		cp.ClosedAt.UnixNano(),
	)

	data, err := sonic.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal closed position")
	}
	if err := os.WriteFile(filepath.Join(a.dir, name), data, 0o644); err != nil {
		return errors.Wrap(err, "write closed position")
	}
	return nil
}

func (a *Archive) ReadAll() ([]models.ClosedPosition, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read archive dir")
	}

	out := make([]models.ClosedPosition, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(a.dir, e.Name()))
		if err != nil {
			logger.Warn("archive read %s: %v", e.Name(), err)
			continue
		}
		var cp models.ClosedPosition
		if err := sonic.Unmarshal(data, &cp); err != nil {
			// битый файл пропускаем, статистика должна считаться по остальным
			logger.Warn("archive unmarshal %s: %v", e.Name(), err)
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}
