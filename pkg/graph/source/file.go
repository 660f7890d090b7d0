package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/athapong/graph-sync/pkg/graph"
)

const fileStore = "file"

// FileSource reads mongoexport output, one <collection>.json file per
// collection, either as JSON lines or as a single JSON array
type FileSource struct {
	dir    string
	logger *logrus.Logger
}

// NewFileSource creates a source reading exports from dir
func NewFileSource(dir string, logger *logrus.Logger) *FileSource {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &FileSource{dir: dir, logger: logger}
}

// Extract implements graph.Source. Projection mirrors MongoDB: dotted paths
// keep their nesting and absent fields are omitted.
func (s *FileSource) Extract(ctx context.Context, collection string, fields []string) ([]graph.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, graph.NewStoreError(graph.ErrConnectivity, fileStore, "read "+collection, err)
	}

	path := filepath.Join(s.dir, collection+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, graph.NewStoreError(graph.ErrQuery, fileStore, "read "+collection, err)
	}

	docs, err := documents(data)
	if err != nil {
		return nil, graph.NewStoreError(graph.ErrQuery, fileStore, "parse "+path, err)
	}

	records := make([]graph.RawRecord, 0, len(docs))
	for i, doc := range docs {
		rec, err := project(doc, fields)
		if err != nil {
			return nil, graph.NewStoreError(graph.ErrQuery, fileStore, "project "+collection, errors.Wrapf(err, "document %d", i))
		}
		records = append(records, rec)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"path":       path,
		"records":    len(records),
	}).Info("Extracted collection")
	return records, nil
}

func documents(data []byte) ([]gjson.Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var docs []gjson.Result
	if trimmed[0] == '[' {
		if !gjson.ValidBytes(trimmed) {
			return nil, errors.New("invalid JSON array")
		}
		gjson.ParseBytes(trimmed).ForEach(func(_, value gjson.Result) bool {
			docs = append(docs, value)
			return true
		})
		return docs, nil
	}

	var invalid error
	gjson.ForEachLine(string(trimmed), func(line gjson.Result) bool {
		if !gjson.Valid(line.Raw) {
			invalid = errors.Errorf("invalid JSON line %q", line.Raw)
			return false
		}
		docs = append(docs, line)
		return true
	})
	return docs, invalid
}

func project(doc gjson.Result, fields []string) (graph.RawRecord, error) {
	if !doc.IsObject() {
		return nil, errors.Errorf("expected an object, got %s", doc.Type)
	}

	projected := "{}"
	paths := append([]string{graph.IDProperty}, fields...)
	for _, path := range paths {
		value := doc.Get(path)
		if !value.Exists() {
			continue
		}
		var err error
		projected, err = sjson.SetRaw(projected, path, value.Raw)
		if err != nil {
			return nil, errors.Wrapf(err, "set %s", path)
		}
	}

	rec, ok := gjson.Parse(projected).Value().(map[string]interface{})
	if !ok {
		return nil, errors.New("projection is not an object")
	}
	return graph.RawRecord(rec), nil
}
