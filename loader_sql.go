package db_migrator

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// LoadSQLFS загружает каталог миграций в формате golang-migrate (NNN_title.up.sql / NNN_title.down.sql)
// как линейную цепочку ревизий из одной SQL-операции. Идентификатор ревизии - номер версии.
// Ревизия без down-файла (или с пустым) считается необратимой.
func LoadSQLFS(fsys fs.FS, dir string) ([]*Revision, error) {
	driver, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("open sql migrations %s: %w", dir, err)
	}
	defer driver.Close()

	version, err := driver.First()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sql migrations %s: %w", dir, err)
	}

	var (
		revisions []*Revision
		parents   []string
	)
	for {
		revision, err := readSQLRevision(driver, dir, version, parents)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, revision)
		parents = []string{revision.ID}

		version, err = driver.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sql migrations %s: %w", dir, err)
		}
	}

	return revisions, nil
}

// LoadSQLDir - LoadSQLFS для каталога на диске.
func LoadSQLDir(dir string) ([]*Revision, error) {
	return LoadSQLFS(os.DirFS(dir), ".")
}

func readSQLRevision(driver source.Driver, dir string, version uint, parents []string) (*Revision, error) {
	id := strconv.FormatUint(uint64(version), 10)

	upReader, identifier, err := driver.ReadUp(version)
	if err != nil {
		return nil, fmt.Errorf("%s: version %d has no up migration: %w", dir, version, err)
	}
	up, err := readAllAndClose(upReader)
	if err != nil {
		return nil, fmt.Errorf("%s: read up migration %d: %w", dir, version, err)
	}

	var down string
	downReader, _, err := driver.ReadDown(version)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%s: read down migration %d: %w", dir, version, err)
	default:
		if down, err = readAllAndClose(downReader); err != nil {
			return nil, fmt.Errorf("%s: read down migration %d: %w", dir, version, err)
		}
	}

	opts := []RevisionOption{
		WithLabel(strings.ReplaceAll(identifier, "_", " ")),
		WithUpgrade(SQL{SQL: up, Reverse: down}),
	}
	if strings.TrimSpace(down) == "" {
		opts = append(opts, MarkIrreversible("sql migration has no down file"))
	}

	revision := NewRevision(id, parents, opts...)
	revision.Source = fmt.Sprintf("%s/%d_%s.up.sql", dir, version, identifier)
	return revision, nil
}

func readAllAndClose(r io.ReadCloser) (string, error) {
	defer r.Close()
	data, err := io.ReadAll(r)
	return string(data), err
}
