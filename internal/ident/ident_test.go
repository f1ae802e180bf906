package ident_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/ident"
)

func TestQuotedDoublesEmbeddedQuote(t *testing.T) {
	require.Equal(t, `"widgets"`, ident.New("widgets").Quoted())
	require.Equal(t, `"fo""o"`, ident.New(`fo"o`).Quoted())
}

func TestRawReturnsUnquotedText(t *testing.T) {
	require.Equal(t, "widgets", ident.New("widgets").Raw())
}

func TestTableAndColumnStringersReturnRawName(t *testing.T) {
	require.Equal(t, "widgets", ident.NewTable("widgets").String())
	require.Equal(t, "name", ident.NewColumn("name").String())
	require.Equal(t, `"widgets"`, ident.NewTable("widgets").Quoted())
}
