package migrations

import (
	"strings"
	"testing"
)

func TestAllContainsSchema(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	if len(all) == 0 || all[0].Name != "0001_init.sql" {
		t.Fatalf("unexpected migrations: %+v", all)
	}
	for _, table := range []string{"jobs", "wallets", "wallet_holds", "wallet_entries", "integration_tokens"} {
		if !strings.Contains(all[0].SQL, "create table if not exists "+table+" ") {
			t.Fatalf("schema is missing table %s", table)
		}
	}
}
