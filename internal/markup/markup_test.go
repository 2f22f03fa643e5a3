package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawText(t *testing.T) {
	tests := []struct {
		name   string
		node   Node
		want   string
		wantOK bool
	}{
		{name: "text", node: Text{Value: "hi"}, want: "hi", wantOK: true},
		{name: "nested strong", node: Strong{Children: []Node{Text{Value: "a"}, Emphasis{Children: []Node{Text{Value: "b"}}}}}, want: "ab", wantOK: true},
		{name: "bare link", node: Link{Target: "https://example.com"}, want: "https://example.com", wantOK: true},
		{name: "custom emoji", node: CustomEmoji{ID: "1", Name: "OxySob"}, want: ":OxySob:", wantOK: true},
		{name: "line break", node: LineBreak{}, wantOK: false},
		{name: "mention", node: Mention{Kind: MentionUser, ID: "1"}, wantOK: false},
		{name: "nil", node: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RawText(tt.node)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntitySnapshotZeroValue(t *testing.T) {
	var snap EntitySnapshot
	_, ok := snap.Channel("123")
	assert.False(t, ok)
	_, ok = snap.Role("123")
	assert.False(t, ok)

	snap = EntitySnapshot{
		Channels: map[string]string{"123": "general"},
		Roles:    map[string]Role{"9": {Name: "mods", Color: 0x1abc9c}},
	}
	name, ok := snap.Channel("123")
	assert.True(t, ok)
	assert.Equal(t, "general", name)
	role, ok := snap.Role("9")
	assert.True(t, ok)
	assert.Equal(t, "mods", role.Name)
}
