package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"nendo/core/nendo"
	"nendo/core/plugin"
	"nendo/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	runOp           string
	runTarget       string
	runText         string
	runArgs         []string
	runRelationship string
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the registered plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNendo(cmd.Context(), func(n *nendo.Nendo) error {
			fmt.Fprintln(cmd.OutOrStdout(), pluginTable(n.Registry.All()))
			return nil
		})
	},
}

func pluginTable(all []*plugin.Registered) string {
	rows := make([][]string, len(all))
	for i, reg := range all {
		rows[i] = []string{
			plugin.ShortName(reg.Name),
			reg.Version,
			string(reg.Plugin.Family),
			strings.Join(reg.Plugin.CallForms(), "\n"),
		}
	}
	return renderTable([]string{"Name", "Version", "Family", "Calls"}, rows, nil)
}

var pluginsRunCmd = &cobra.Command{
	Use:   "run <plugin>",
	Short: "Run a plugin on a track, a collection, text, or nothing",
	Example: `  nendo plugins run loudness --target <track-id>
  nendo plugins run gain --target <collection-id> --arg gain=0.2
  nendo plugins run tone --arg freq=220 --arg seconds=2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		call := plugin.Call{Text: runText, RelationshipType: runRelationship, Args: parseArgs(runArgs)}
		if runTarget != "" {
			id, err := uuid.Parse(runTarget)
			if err != nil {
				return fmt.Errorf("invalid target id %q", runTarget)
			}
			call.ID = id
		}
		return mutate(cmd.Context(), func(n *nendo.Nendo) error {
			var (
				res *plugin.Result
				err error
			)
			if runOp != "" {
				res, err = n.Dispatcher.CallOp(cmd.Context(), args[0], runOp, call)
			} else {
				res, err = n.Dispatcher.Call(cmd.Context(), args[0], call)
			}
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		})
	},
}

func printResult(cmd *cobra.Command, res *plugin.Result) error {
	out := cmd.OutOrStdout()
	switch res.Kind {
	case plugin.ResultAmbiguous:
		return fmt.Errorf("ambiguous call, pass --op with one of:\n  %s", strings.Join(res.CallForms, "\n  "))
	case plugin.ResultTrack:
		fmt.Fprintln(out, trackTable([]*model.Track{res.Track}))
		fmt.Fprintln(out, detailTable(res.Track))
	case plugin.ResultTracks:
		fmt.Fprintln(out, trackTable(res.Tracks))
	case plugin.ResultCollection:
		fmt.Fprintf(out, "collection %s (%s)\n", res.Collection.ID, res.Collection.Name)
	case plugin.ResultNone:
		fmt.Fprintln(out, "done")
	default:
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
	}
	return nil
}

// parseArgs reads key=value plugin arguments, keeping numbers numeric.
func parseArgs(pairs []string) plugin.Args {
	args := plugin.Args{}
	for _, p := range pairs {
		key, value, _ := strings.Cut(p, "=")
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			args[key] = f
			continue
		}
		args[key] = value
	}
	return args
}

func init() {
	pluginsRunCmd.Flags().StringVar(&runOp, "op", "", "operation name, required when the call is ambiguous")
	pluginsRunCmd.Flags().StringVar(&runTarget, "target", "", "track or collection id")
	pluginsRunCmd.Flags().StringVar(&runText, "text", "", "text input for embedding plugins")
	pluginsRunCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "plugin argument key=value (repeatable)")
	pluginsRunCmd.Flags().StringVar(&runRelationship, "relationship", "", "relationship type for derived tracks")

	pluginsCmd.AddCommand(pluginsRunCmd)
	rootCmd.AddCommand(pluginsCmd)
}
