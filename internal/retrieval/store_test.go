package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGVectorStoreSearch(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"title", "source_kind", "source_uri", "body", "similarity"}).
		AddRow("Reglamento_Interno_2024.pdf", "internal_handbook", "gs://docs/reglamento.pdf", "Artículo 12...", 0.91).
		AddRow("Circular 482", "external_regulation", "https://www.supereduc.cl/circular-482", "La circular...", 0.80)

	mock.ExpectQuery("FROM assistant\\.knowledge_chunks\\s+WHERE index_id = \\$1").
		WithArgs("idx-1", sqlmock.AnyArg(), 3, defaultMinSimilarity).
		WillReturnRows(rows)

	passages, err := NewPGVectorStore(db, 0).Search(context.Background(), "idx-1", []float32{0.1, 0.2}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(passages))
	}
	if passages[0].SourceKind != SourceInternalHandbook || passages[1].SourceKind != SourceExternalRegulation {
		t.Fatalf("unexpected kinds %+v", passages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGVectorStoreRequiresIndex(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewPGVectorStore(db, 0).Search(context.Background(), "", []float32{0.1}, 3); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}
}
