package cmd

import (
	"fmt"

	"nendo/core/library"
	"nendo/core/nendo"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	collectionType        string
	collectionDescription string
	collectionSearch      string
	collectionPosition    int
	collectionForce       bool
	exportFormat          string
	exportPrefix          string
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"col"},
	Short:   "Create, list, edit and export collections",
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(args))
	for i, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids[i] = id
	}
	return ids, nil
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name> [track-id]...",
	Short: "Create a collection holding the given tracks in order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}
		return mutate(cmd.Context(), func(n *nendo.Nendo) error {
			c, err := n.Library.AddCollection(cmd.Context(), args[0], ids, library.CollectionOptions{
				CollectionType: collectionType,
				Description:    collectionDescription,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		})
	},
}

var collectionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := library.CollectionQuery{Search: collectionSearch}
		if collectionType != "" {
			q.CollectionTypes = []string{collectionType}
		}
		return withNendo(cmd.Context(), func(n *nendo.Nendo) error {
			cols, err := n.Library.GetCollections(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), collectionTable(cols))
			return nil
		})
	},
}

var collectionAddCmd = &cobra.Command{
	Use:   "add <collection-id> <track-id>",
	Short: "Add a track to a collection, at --position or at the end",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		var position *int
		if cmd.Flags().Changed("position") {
			position = &collectionPosition
		}
		return mutate(cmd.Context(), func(n *nendo.Nendo) error {
			_, err := n.Library.AddTrackToCollection(cmd.Context(), ids[1], ids[0], position)
			return err
		})
	},
}

var collectionRmCmd = &cobra.Command{
	Use:   "rm <collection-id> [track-id]",
	Short: "Remove a collection, or one track from it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return mutate(cmd.Context(), func(n *nendo.Nendo) error {
			if len(ids) == 2 {
				_, err := n.Library.RemoveTrackFromCollection(cmd.Context(), ids[1], ids[0])
				return err
			}
			removed, err := n.Library.RemoveCollection(cmd.Context(), ids[0], collectionForce)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("collection %s is related to other collections; pass --force", ids[0])
			}
			return nil
		})
	},
}

var collectionExportCmd = &cobra.Command{
	Use:   "export <collection-id> <dir>",
	Short: "Export the collection's tracks and a manifest into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[:1])
		if err != nil {
			return err
		}
		return withNendo(cmd.Context(), func(n *nendo.Nendo) error {
			files, err := n.Library.ExportCollection(cmd.Context(), ids[0], args[1], exportFormat, exportPrefix)
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return err
		})
	},
}

func init() {
	collectionCreateCmd.Flags().StringVarP(&collectionType, "type", "t", "", "collection type")
	collectionCreateCmd.Flags().StringVarP(&collectionDescription, "description", "d", "", "description")
	collectionLsCmd.Flags().StringVarP(&collectionType, "type", "t", "", "collection type")
	collectionLsCmd.Flags().StringVarP(&collectionSearch, "search", "s", "", "match name or description")
	collectionAddCmd.Flags().IntVar(&collectionPosition, "position", 0, "insert position, clamped to the collection size")
	collectionRmCmd.Flags().BoolVar(&collectionForce, "force", false, "also remove relationships to other collections")
	collectionExportCmd.Flags().StringVar(&exportFormat, "format", "wav", "wav, mp3 or ogg")
	collectionExportCmd.Flags().StringVar(&exportPrefix, "prefix", "", "file name prefix")

	collectionCmd.AddCommand(collectionCreateCmd, collectionLsCmd, collectionAddCmd, collectionRmCmd, collectionExportCmd)
	rootCmd.AddCommand(collectionCmd)
}
