package cmd

import (
	"errors"
	"fmt"

	"nendo/cache"
	"nendo/db"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var errRedisDisabled = errors.New("redis is not configured, set REDIS_HOST")

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check and maintain the redis signal cache",
}

func connectRedis(cmd *cobra.Command) (*redis.Client, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "Redis: %s:%s, db %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	client, err := db.ConnectRedis(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errRedisDisabled
	}
	return client, nil
}

var redisPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect and run a set/get/del round trip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectRedis(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := db.TestRedis(cmd.Context(), client); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var redisFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached signal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectRedis(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		n, err := cache.FlushSignals(cmd.Context(), client)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached signals\n", n)
		return nil
	},
}

func init() {
	redisCmd.AddCommand(redisPingCmd, redisFlushCmd)
	rootCmd.AddCommand(redisCmd)
}
