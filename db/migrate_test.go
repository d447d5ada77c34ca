package db

import (
	"strings"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "postgres scheme",
			in:   "postgres://sage:pw@localhost:5432/sage?sslmode=disable",
			want: "pgx5://sage:pw@localhost:5432/sage?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			in:   "postgresql://sage:pw@db:5432/sage",
			want: "pgx5://sage:pw@db:5432/sage",
		},
		{
			name:    "unsupported scheme",
			in:      "mysql://root@localhost/sage",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrateURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("migrateURL(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("migrateURL(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("reading embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") && !strings.HasSuffix(e.Name(), ".down.sql") {
			t.Errorf("unexpected migration file %q", e.Name())
		}
	}
}
