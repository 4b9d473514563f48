package cmd

import (
	"fmt"

	"nendo/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioRecursive bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Manage the MinIO bucket backing the library",
}

func connectMinio(cmd *cobra.Command) (*storage.MinioDriver, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "MinIO: %s, bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
	return storage.NewMinioDriver(cmd.Context(), storage.MinioOptions{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		CacheDir:  cfg.LibraryPath,
	})
}

var minioInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the bucket and the library user's prefix",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connectMinio(cmd)
		if err != nil {
			return err
		}
		if err := d.EnsureBucket(cmd.Context()); err != nil {
			return err
		}
		prefix, err := d.InitForUser(cmd.Context(), cfg.UserID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bucket %s ready, user prefix %s\n", d.Bucket(), prefix)
		return nil
	},
}

var minioLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List objects in the bucket with totals",
	Example: `  nendo minio ls
  nendo minio ls -p "ffffffff-1111-2222-3333-1234567890ab/" -r`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connectMinio(cmd)
		if err != nil {
			return err
		}
		objects, stats, err := d.ListObjects(cmd.Context(), minioPrefix, minioRecursive)
		if err != nil {
			return err
		}
		rows := make([][]string, len(objects))
		for i, o := range objects {
			rows[i] = []string{o.Key, storage.FormatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"), o.ContentType}
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTable([]string{"Key", "Size", "Modified", "Type"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft}))
		fmt.Fprintf(out, "%d objects, %s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		return nil
	},
}

func init() {
	minioLsCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "only list keys with this prefix")
	minioLsCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "descend into prefixes")

	minioCmd.AddCommand(minioInitCmd, minioLsCmd)
	rootCmd.AddCommand(minioCmd)
}
