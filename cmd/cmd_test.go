package cmd

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE DATABASE x;\n\n  CREATE TABLE x.t (a UInt8)\nENGINE = Memory;\n")
	gt.Equal(t, got, []string{"CREATE DATABASE x", "CREATE TABLE x.t (a UInt8)\nENGINE = Memory"})
	gt.Equal(t, len(splitStatements(" ; ;")), 0)
}

func TestDemoOperatorsHaveUniqueKeys(t *testing.T) {
	seen := map[string]bool{}
	for _, op := range demoOperators() {
		gt.Equal(t, len(op.APIKey), 32)
		gt.False(t, seen[op.APIKey])
		seen[op.APIKey] = true
	}
}
