package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"replypilot/internal/domain"
)

const metaEmbeddingDim = "embedding_dim"

// SaveDocument inserts a document with its embedding in one transaction. The
// corpus dimension is recorded from the first document and every later write
// must match it.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc domain.KnowledgeDoc, embedding []float64) (int64, error) {
	if len(embedding) == 0 {
		return 0, fmt.Errorf("document %q has an empty embedding", doc.Title)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	dim, err := readDimension(ctx, tx)
	if err != nil {
		return 0, err
	}
	if dim == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?)`,
			metaEmbeddingDim, strconv.Itoa(len(embedding)),
		); err != nil {
			return 0, err
		}
	} else if dim != len(embedding) {
		return 0, fmt.Errorf("embedding dimension %d does not match corpus dimension %d", len(embedding), dim)
	}

	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return 0, err
	}
	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return 0, err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO knowledge_docs (title, content, doc_type, category, source_file, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Title, doc.Content, doc.DocType, doc.Category, doc.SourceFile, string(metaJSON), string(embJSON), doc.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) Embeddings(ctx context.Context) ([]domain.StoredEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM knowledge_docs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StoredEmbedding
	for rows.Next() {
		var e domain.StoredEmbedding
		var raw string
		if err := rows.Scan(&e.DocID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Vector); err != nil {
			return nil, fmt.Errorf("corrupt embedding for doc %d: %w", e.DocID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []int64) (map[int64]domain.KnowledgeDoc, error) {
	if len(ids) == 0 {
		return map[int64]domain.KnowledgeDoc{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, doc_type, category, source_file, metadata, created_at
		 FROM knowledge_docs WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make(map[int64]domain.KnowledgeDoc, len(ids))
	for rows.Next() {
		var d domain.KnowledgeDoc
		var docType, category, sourceFile, metaRaw sql.NullString
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &docType, &category, &sourceFile, &metaRaw, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.DocType = docType.String
		d.Category = category.String
		d.SourceFile = sourceFile.String
		if metaRaw.Valid && metaRaw.String != "" && metaRaw.String != "null" {
			if err := json.Unmarshal([]byte(metaRaw.String), &d.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata for doc %d: %w", d.ID, err)
			}
		}
		docs[d.ID] = d
	}
	return docs, rows.Err()
}

// EmbeddingDimension returns the recorded corpus dimension, 0 when the corpus
// is empty.
func (s *SQLiteStore) EmbeddingDimension(ctx context.Context) (int, error) {
	return readDimension(ctx, s.db)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDimension(ctx context.Context, q querier) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaEmbeddingDim).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}
