package plugin

import (
	"fmt"
	"strings"

	"nendo/model"
)

// embeddingFields are the metadata keys that describe a track in text.
var embeddingFields = []string{"artist", "album", "title", "genre", "year", "duration", "content"}

// EmbeddingText renders a track as "key: value; " pairs over its
// descriptive metadata followed by its plugin data.
func EmbeddingText(track *model.Track) string {
	var b strings.Builder
	for _, key := range embeddingFields {
		if v, ok := track.GetMeta(key); ok {
			fmt.Fprintf(&b, "%s: %v; ", key, v)
		}
	}
	for _, pd := range track.PluginData {
		fmt.Fprintf(&b, "%s: %s; ", pd.Key, pd.Value)
	}
	return b.String()
}
