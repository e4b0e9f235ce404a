package db_migrator

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// revisionFile - формат файла ревизии (YAML или JSON).
type revisionFile struct {
	ID                 string        `yaml:"id"`
	Parents            stringList    `yaml:"parents"`
	Label              string        `yaml:"label"`
	CreatedAt          revisionTime  `yaml:"created_at"`
	Upgrade            []opEnvelope  `yaml:"upgrade"`
	Downgrade          *[]opEnvelope `yaml:"downgrade"`
	Irreversible       bool          `yaml:"irreversible"`
	IrreversibleReason string        `yaml:"irreversible_reason"`
}

// stringList принимает как список, так и одиночное значение: parents: "002".
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Tag == "!!null" || node.Value == "" {
			*l = nil
			return nil
		}
		*l = stringList{node.Value}
		return nil
	}
	var values []string
	if err := node.Decode(&values); err != nil {
		return err
	}
	*l = values
	return nil
}

type revisionTime struct {
	time.Time
}

var revisionTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *revisionTime) UnmarshalYAML(node *yaml.Node) error {
	value := strings.TrimSpace(node.Value)
	if value == "" {
		return nil
	}
	for _, layout := range revisionTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("line %d: cannot parse created_at %q, use RFC 3339 like 2024-05-02T10:00:00Z", node.Line, value)
}

type opEnvelope struct {
	Operation
}

type opDecoder func(node *yaml.Node) (Operation, error)

func decodeOp[T Operation](node *yaml.Node) (Operation, error) {
	// ключ op уже прочитан, остальные ключи должны совпадать с полями операции
	body := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "op" {
			body.Content = append(body.Content, node.Content[i], node.Content[i+1])
		}
	}
	data, err := yaml.Marshal(body)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var op T
	if err := dec.Decode(&op); err != nil {
		return nil, stripLines(err)
	}
	return op, nil
}

var yamlLineRe = regexp.MustCompile(`^line \d+: `)

// stripLines убирает номера строк из ошибок разбора операции: они относятся к перекодированной
// операции, а не к файлу. Строку операции в файле добавляет вызывающий код.
func stripLines(err error) error {
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		return err
	}
	messages := make([]string, 0, len(typeErr.Errors))
	for _, msg := range typeErr.Errors {
		messages = append(messages, yamlLineRe.ReplaceAllString(msg, ""))
	}
	return errors.New(strings.Join(messages, "; "))
}

var opDecoders = map[OpKind]opDecoder{
	OpCreateTable:     decodeOp[CreateTable],
	OpDropTable:       decodeOp[DropTable],
	OpAddColumn:       decodeOp[AddColumn],
	OpDropColumn:      decodeOp[DropColumn],
	OpRenameColumn:    decodeOp[RenameColumn],
	OpCreateEnum:      decodeOp[CreateEnum],
	OpDropEnum:        decodeOp[DropEnum],
	OpAddEnumValue:    decodeOp[AddEnumValue],
	OpRenameEnumValue: decodeOp[RenameEnumValue],
	OpCreateIndex:     decodeOp[CreateIndex],
	OpDropIndex:       decodeOp[DropIndex],
	OpAddConstraint:   decodeOp[AddConstraint],
	OpDropConstraint:  decodeOp[DropConstraint],
	OpSQL:             decodeOp[SQL],
}

func (e *opEnvelope) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Op OpKind `yaml:"op"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	if head.Op == "" {
		return fmt.Errorf("line %d: operation without op key", node.Line)
	}

	decode, ok := opDecoders[head.Op]
	if !ok {
		return fmt.Errorf("line %d: unknown operation %q", node.Line, head.Op)
	}
	op, err := decode(node)
	if err != nil {
		return fmt.Errorf("line %d: %s: %w", node.Line, head.Op, err)
	}
	e.Operation = op
	return nil
}

// ParseRevision разбирает содержимое одного файла ревизии. source попадает в сообщения об ошибках.
func ParseRevision(data []byte, source string) (*Revision, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%s: empty revision file", source)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file revisionFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	revision := &Revision{
		ID:                 strings.TrimSpace(file.ID),
		Parents:            []string(file.Parents),
		Label:              file.Label,
		CreatedAt:          file.CreatedAt.Time,
		Upgrade:            unwrapOps(file.Upgrade),
		Irreversible:       file.Irreversible,
		IrreversibleReason: file.IrreversibleReason,
		Source:             source,
	}
	if file.Downgrade != nil {
		revision.Downgrade = unwrapOps(*file.Downgrade)
	}

	if err := revision.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return revision, nil
}

func unwrapOps(envelopes []opEnvelope) []Operation {
	ops := make([]Operation, 0, len(envelopes))
	for _, e := range envelopes {
		ops = append(ops, e.Operation)
	}
	return ops
}

func isRevisionFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadFS загружает все файлы ревизий из root (рекурсивно) в лексическом порядке путей.
func LoadFS(fsys fs.FS, root string) ([]*Revision, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isRevisionFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read revisions from %s: %w", root, err)
	}
	sort.Strings(files)

	revisions := make([]*Revision, 0, len(files))
	for _, p := range files {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		revision, err := ParseRevision(data, p)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, revision)
	}
	return revisions, nil
}

// LoadDir загружает файлы ревизий из каталога на диске.
func LoadDir(dir string) ([]*Revision, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("revisions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("revisions directory %s is not a directory", dir)
	}

	revisions, err := LoadFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	for _, r := range revisions {
		r.Source = filepath.Join(dir, filepath.FromSlash(r.Source))
	}
	return revisions, nil
}
