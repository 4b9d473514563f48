package cmd

import (
	"fmt"
	"os"
	"strings"

	"nendo/core/library"
	"nendo/core/nendo"
	"nendo/core/query"
	"nendo/core/utils"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	trackType     string
	trackMeta     []string
	trackSearch   []string
	trackFilters  []string
	trackPlugins  []string
	trackOrderBy  string
	trackOrder    string
	trackLimit    int
	rmPluginData  bool
	rmRelations   bool
	rmResources   bool
	trackNoCopy   bool
	trackReimport bool
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Add, list, inspect and remove tracks",
}

var trackAddCmd = &cobra.Command{
	Use:   "add <file-dir-or-url>...",
	Short: "Import audio files; a directory is imported into a new collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseKeyValues(trackMeta)
		if err != nil {
			return err
		}
		opts := library.TrackOptions{TrackType: trackType, Meta: meta}
		if trackNoCopy {
			copyToLibrary := false
			opts.CopyToLibrary = &copyToLibrary
		}
		if trackReimport {
			skip := false
			opts.SkipDuplicate = &skip
		}
		return mutate(cmd.Context(), func(n *nendo.Nendo) error {
			for _, path := range args {
				if utils.IsURL(path) {
					dir, err := os.MkdirTemp("", "nendo-download-")
					if err != nil {
						return err
					}
					defer os.RemoveAll(dir)
					if path, err = utils.DownloadFile(cmd.Context(), path, dir); err != nil {
						return err
					}
				}
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				if info.IsDir() {
					col, err := n.Library.AddTracks(cmd.Context(), path, opts)
					if err != nil {
						return err
					}
					size, _ := n.Library.CollectionSize(cmd.Context(), col.ID)
					fmt.Fprintf(cmd.OutOrStdout(), "imported %d tracks into collection %s\n", size, col.ID)
					continue
				}
				t, err := n.Library.AddTrack(cmd.Context(), path, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			}
			return nil
		})
	},
}

func trackQuery() (library.TrackQuery, error) {
	q := library.TrackQuery{
		SearchMeta:  trackSearch,
		PluginNames: trackPlugins,
		OrderBy:     trackOrderBy,
		Order:       trackOrder,
		Limit:       trackLimit,
	}
	if trackType != "" {
		q.TrackTypes = []string{trackType}
	}
	for _, f := range trackFilters {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return q, fmt.Errorf("invalid filter %q, expected key=spec", f)
		}
		if q.Filters == nil {
			q.Filters = make(map[string]query.Spec)
		}
		q.Filters[key] = query.ParseSpecString(value)
	}
	return q, q.Validate()
}

var trackLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"filter"},
	Short:   "List tracks, optionally filtered by plugin data",
	Example: `  nendo track ls --search piano
  nendo track filter --filter rms=0.1:0.5 --filter key=C,G --plugin nendo_plugin_loudness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := trackQuery()
		if err != nil {
			return err
		}
		return withNendo(cmd.Context(), func(n *nendo.Nendo) error {
			tracks, err := n.Library.FilterTracks(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), trackTable(tracks))
			return nil
		})
	},
}

var trackShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a track with its meta, plugin data and related tracks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid track id %q", args[0])
		}
		return withNendo(cmd.Context(), func(n *nendo.Nendo) error {
			t, err := n.Library.GetTrack(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", t.ID, t.Resource.FilePath)
			fmt.Fprintln(out, detailTable(t))
			related, err := n.Library.GetRelatedTracks(cmd.Context(), id, query.DirectionBoth)
			if err != nil {
				return err
			}
			if len(related) > 0 {
				fmt.Fprintln(out, "related:")
				fmt.Fprintln(out, trackTable(related))
			}
			return nil
		})
	},
}

var trackRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid track id %q", args[0])
		}
		return mutate(cmd.Context(), func(n *nendo.Nendo) error {
			removed, err := n.Library.RemoveTrack(cmd.Context(), id, library.RemoveTrackOptions{
				RemoveRelationships: rmRelations,
				RemovePluginData:    rmPluginData,
				RemoveResources:     rmResources,
			})
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("track %s still has plugin data or relationships; pass --plugin-data and --relationships", id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", id)
			return nil
		})
	},
}

// parseKeyValues turns key=value pairs into a meta map.
func parseKeyValues(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q, expected key=value", p)
		}
		out[key] = value
	}
	return out, nil
}

func init() {
	trackAddCmd.Flags().StringVarP(&trackType, "type", "t", "", "track type")
	trackAddCmd.Flags().StringArrayVarP(&trackMeta, "meta", "m", nil, "meta entry key=value (repeatable)")
	trackAddCmd.Flags().BoolVar(&trackNoCopy, "no-copy", false, "reference the file in place instead of copying it into the library")
	trackAddCmd.Flags().BoolVar(&trackReimport, "reimport", false, "import files even when an identical one exists")

	trackLsCmd.Flags().StringVarP(&trackType, "type", "t", "", "track type")
	trackLsCmd.Flags().StringSliceVarP(&trackSearch, "search", "s", nil, "search terms matched against meta and resource")
	trackLsCmd.Flags().StringArrayVarP(&trackFilters, "filter", "f", nil, "plugin data filter key=low:high | a,b | text (repeatable)")
	trackLsCmd.Flags().StringSliceVarP(&trackPlugins, "plugin", "p", nil, "restrict filters to these plugins")
	trackLsCmd.Flags().StringVar(&trackOrderBy, "order-by", "", "order column, or random")
	trackLsCmd.Flags().StringVar(&trackOrder, "order", "asc", "asc or desc")
	trackLsCmd.Flags().IntVarP(&trackLimit, "limit", "n", 0, "maximum number of tracks")

	trackRmCmd.Flags().BoolVar(&rmPluginData, "plugin-data", false, "also remove the track's plugin data")
	trackRmCmd.Flags().BoolVar(&rmRelations, "relationships", false, "also remove the track's relationships")
	trackRmCmd.Flags().BoolVar(&rmResources, "resources", false, "also delete the stored audio file")

	trackCmd.AddCommand(trackAddCmd, trackLsCmd, trackShowCmd, trackRmCmd)
	rootCmd.AddCommand(trackCmd)
}
