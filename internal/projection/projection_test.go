package projection

import (
	"testing"

	"github.com/anonproxy/pganonproxy/internal/wire"
)

func TestTraceSimpleColumns(t *testing.T) {
	fields := []wire.Field{
		{Name: "first_name", TableOID: 100},
		{Name: "age", TableOID: 100},
	}
	origins, err := Trace("SELECT first_name, age FROM users", fields)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(origins) != 2 {
		t.Fatalf("got %d origins, want 2", len(origins))
	}
	for i, col := range []string{"first_name", "age"} {
		if origins[i].Kind != KindTableColumn || origins[i].Table != "users" || origins[i].Column != col {
			t.Errorf("origin[%d] = %+v, want users.%s", i, origins[i], col)
		}
	}
}

func TestTraceQualifiedColumn(t *testing.T) {
	fields := []wire.Field{{Name: "id", TableOID: 200}}
	origins, err := Trace("SELECT u.id FROM users u", fields)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if origins[0].Table != "users" || origins[0].Column != "id" {
		t.Errorf("origin = %+v", origins[0])
	}
}

func TestTraceBareStarSingleTable(t *testing.T) {
	fields := []wire.Field{
		{Name: "id", TableOID: 100},
		{Name: "first_name", TableOID: 100},
	}
	origins, err := Trace("SELECT * FROM users", fields)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(origins) != 2 || origins[0].Table != "users" || origins[1].Table != "users" {
		t.Fatalf("origins = %+v", origins)
	}
}

func TestTraceBareStarJoin(t *testing.T) {
	fields := []wire.Field{
		{Name: "id", TableOID: 100},
		{Name: "name", TableOID: 100},
		{Name: "order_id", TableOID: 200},
	}
	origins, err := Trace("SELECT * FROM users JOIN orders ON users.id = orders.user_id", fields)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(origins) != 3 {
		t.Fatalf("got %d origins, want 3", len(origins))
	}
	if origins[0].Table != "users" || origins[1].Table != "users" || origins[2].Table != "orders" {
		t.Errorf("origins = %+v", origins)
	}
}

func TestTraceQualifiedStar(t *testing.T) {
	fields := []wire.Field{
		{Name: "id", TableOID: 100},
		{Name: "name", TableOID: 100},
	}
	origins, err := Trace("SELECT u.* FROM users u", fields)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(origins) != 2 || origins[0].Table != "users" || origins[1].Table != "users" {
		t.Fatalf("origins = %+v", origins)
	}
}

func TestTraceLiteralAndFunction(t *testing.T) {
	fields := []wire.Field{{Name: "one"}, {Name: "cnt"}}
	origins, err := Trace("SELECT 1, count(*) FROM users", fields)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if origins[0].Kind != KindValue {
		t.Errorf("origin[0].Kind = %v, want KindValue", origins[0].Kind)
	}
	if origins[1].Kind != KindFunction {
		t.Errorf("origin[1].Kind = %v, want KindFunction", origins[1].Kind)
	}
}

func TestTraceAmbiguousUnqualifiedColumnErrors(t *testing.T) {
	fields := []wire.Field{{Name: "id"}, {Name: "id"}}
	if _, err := Trace("SELECT id FROM users JOIN orders ON true", fields); err == nil {
		t.Fatal("expected error for unqualified column with multiple FROM tables")
	}
}

func TestTraceFieldCountMismatchErrors(t *testing.T) {
	fields := []wire.Field{{Name: "first_name"}}
	if _, err := Trace("SELECT first_name, age FROM users", fields); err == nil {
		t.Fatal("expected error when traced count does not match field count")
	}
}
