package cmd

import (
	"fmt"
	"sort"
	"strings"

	"nendo/model"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func trackTable(tracks []*model.Track) string {
	rows := make([][]string, len(tracks))
	for i, t := range tracks {
		rows[i] = []string{
			t.ID.String(),
			t.TrackType,
			t.MetaString("title"),
			t.MetaString("artist"),
			t.Resource.FileName,
			fmt.Sprint(len(t.PluginData)),
		}
	}
	return renderTable([]string{"ID", "Type", "Title", "Artist", "File", "Plugin data"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}

func collectionTable(cols []*model.Collection) string {
	rows := make([][]string, len(cols))
	for i, c := range cols {
		rows[i] = []string{c.ID.String(), c.Name, c.CollectionType, fmt.Sprint(len(c.RelatedTracks))}
	}
	return renderTable([]string{"ID", "Name", "Type", "Tracks"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight})
}

// detailTable lists meta and plugin data of one track as key/value rows.
func detailTable(t *model.Track) string {
	keys := make([]string, 0, len(t.Meta))
	for k := range t.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys)+len(t.PluginData))
	for _, k := range keys {
		rows = append(rows, []string{"meta", k, fmt.Sprint(t.Meta[k])})
	}
	for _, pd := range t.PluginData {
		rows = append(rows, []string{pd.PluginName, pd.Key, truncate(pd.Value, 60)})
	}
	return renderTable([]string{"Source", "Key", "Value"}, rows, nil)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
