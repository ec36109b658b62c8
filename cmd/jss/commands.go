package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/eteran/jss/internal/fsutil"
	"github.com/eteran/jss/pkg/auth"
	"github.com/eteran/jss/pkg/client"

	"github.com/urfave/cli/v2"
)

var BucketFlag = &cli.StringFlag{
	Name:     "bucket",
	Aliases:  []string{"b"},
	Usage:    "bucket name",
	Required: true,
}

var KeyFlag = &cli.StringFlag{
	Name:    "key",
	Aliases: []string{"k"},
	Usage:   "object key",
}

var FilepathFlag = &cli.StringFlag{
	Name:     "filepath",
	Aliases:  []string{"f"},
	Usage:    "file to upload",
	Required: true,
}

var OutdirFlag = &cli.StringFlag{
	Name:    "outdir",
	Aliases: []string{"o"},
	Usage:   "download directory",
	Value:   ".",
}

func RequiredStringFlag(strFlag *cli.StringFlag) *cli.StringFlag {
	copy := *strFlag
	copy.Required = true
	return &copy
}

func commands(s *session) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "list-buckets",
			Usage: "list the buckets of the account",
			Action: func(cCtx *cli.Context) error {
				buckets, err := s.client.ListBuckets(cCtx.Context)
				if err != nil {
					return err
				}
				w := cCtx.App.Writer
				fmt.Fprintln(w, "Found", len(buckets), "buckets.")
				for _, b := range buckets {
					fmt.Fprintln(w, "Bucket:", b.Name)
				}
				return nil
			},
		},
		{
			Name:  "put-bucket",
			Usage: "create a bucket",
			Flags: []cli.Flag{BucketFlag},
			Action: func(cCtx *cli.Context) error {
				if err := s.client.PutBucket(cCtx.Context, cCtx.String("bucket")); err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, "create bucket success.")
				return nil
			},
		},
		{
			Name:  "delete-bucket",
			Usage: "delete an empty bucket",
			Flags: []cli.Flag{BucketFlag},
			Action: func(cCtx *cli.Context) error {
				if err := s.client.DeleteBucket(cCtx.Context, cCtx.String("bucket")); err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, "delete bucket success.")
				return nil
			},
		},
		{
			Name:  "list-objects",
			Usage: "list the objects of a bucket",
			Flags: []cli.Flag{
				BucketFlag,
				&cli.StringFlag{Name: "prefix", Usage: "only keys starting with this prefix"},
				&cli.StringFlag{Name: "delimiter", Usage: "fold keys containing this after the prefix"},
				&cli.StringFlag{Name: "marker", Usage: "list keys after this one"},
				&cli.IntFlag{Name: "max-keys", Usage: "page size"},
			},
			Action: func(cCtx *cli.Context) error {
				listing, err := s.client.ListObjects(cCtx.Context, cCtx.String("bucket"), client.ListObjectsOptions{
					Prefix:    cCtx.String("prefix"),
					Delimiter: cCtx.String("delimiter"),
					Marker:    cCtx.String("marker"),
					MaxKeys:   cCtx.Int("max-keys"),
				})
				if err != nil {
					return err
				}
				w := cCtx.App.Writer
				fmt.Fprintln(w, "Found", len(listing.Contents), "objects.")
				for _, obj := range listing.Contents {
					fmt.Fprintln(w, "Object:", obj.Key)
				}
				for _, p := range listing.CommonPrefixes {
					fmt.Fprintln(w, "Prefix:", p)
				}
				if listing.HasNext {
					fmt.Fprintln(w, "More objects follow.")
				}
				return nil
			},
		},
		{
			Name:  "head-object",
			Usage: "print the headers of an object",
			Flags: []cli.Flag{BucketFlag, RequiredStringFlag(KeyFlag)},
			Action: func(cCtx *cli.Context) error {
				info, err := s.client.HeadObject(cCtx.Context, cCtx.String("bucket"), cCtx.String("key"))
				if err != nil {
					return err
				}
				names := make([]string, 0, len(info.Header))
				for name := range info.Header {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					fmt.Fprintln(cCtx.App.Writer, "Head:", strings.ToLower(name), "=", info.Header.Get(name))
				}
				return nil
			},
		},
		{
			Name:  "get-object",
			Usage: "download an object into a directory",
			Flags: []cli.Flag{BucketFlag, RequiredStringFlag(KeyFlag), OutdirFlag},
			Action: func(cCtx *cli.Context) error {
				key := cCtx.String("key")
				outdir := cCtx.String("outdir")

				if info, err := os.Stat(outdir); err != nil || !info.IsDir() {
					return fmt.Errorf("output directory %q doesn't exist", outdir)
				}
				if !filepath.IsLocal(filepath.FromSlash(key)) {
					return fmt.Errorf("key %q cannot be written below %q", key, outdir)
				}

				body, _, err := s.client.GetObjectStream(cCtx.Context, cCtx.String("bucket"), key)
				if err != nil {
					return err
				}
				defer body.Close()

				n, err := fsutil.WriteFileAtomic(filepath.Join(outdir, filepath.FromSlash(key)), body, 0o644)
				if err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, "Write", n, "bytes success.")
				return nil
			},
		},
		{
			Name:  "put-object",
			Usage: "upload a file in a single request",
			Flags: []cli.Flag{BucketFlag, KeyFlag, FilepathFlag},
			Action: func(cCtx *cli.Context) error {
				path := cCtx.String("filepath")
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}

				info, err := s.client.PutObject(cCtx.Context, cCtx.String("bucket"), cCtx.String("key"), filepath.Base(path), data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, "Upload", info.Key, "success")
				return nil
			},
		},
		{
			Name:  "upload-object",
			Usage: "upload a file in parts",
			Flags: []cli.Flag{BucketFlag, KeyFlag, FilepathFlag},
			Action: func(cCtx *cli.Context) error {
				result, err := s.client.UploadObject(cCtx.Context, cCtx.String("bucket"), cCtx.String("key"), cCtx.String("filepath"))
				if err != nil {
					var uploadErr *client.UploadError
					if errors.As(err, &uploadErr) {
						for _, f := range uploadErr.Failed {
							fmt.Fprintln(cCtx.App.ErrWriter, "Failed part:", f.PartNumber, f.Err)
						}
					}
					return err
				}

				w := cCtx.App.Writer
				fmt.Fprintln(w, "Upload", result.Key, "success:", len(result.Parts), "parts,", result.Size, "bytes, etag", result.ETag)
				for _, f := range result.Failed {
					fmt.Fprintln(w, "Left out part:", f.PartNumber, f.Err)
				}
				return nil
			},
		},
		{
			Name:  "delete-object",
			Usage: "delete an object",
			Flags: []cli.Flag{BucketFlag, RequiredStringFlag(KeyFlag)},
			Action: func(cCtx *cli.Context) error {
				key := cCtx.String("key")
				if err := s.client.DeleteObject(cCtx.Context, cCtx.String("bucket"), key); err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, "Delete", key, "success.")
				return nil
			},
		},
		{
			Name:  "signed-url",
			Usage: "print a pre-signed URL for an object",
			Flags: []cli.Flag{
				BucketFlag,
				RequiredStringFlag(KeyFlag),
				&cli.StringFlag{Name: "method", Usage: "HTTP method the URL grants", Value: http.MethodGet},
				&cli.DurationFlag{Name: "expires", Usage: "validity window", Value: auth.DefaultPresignExpiry},
			},
			Action: func(cCtx *cli.Context) error {
				signed, err := s.client.PresignedURL(strings.ToUpper(cCtx.String("method")), cCtx.String("bucket"), cCtx.String("key"), cCtx.Duration("expires"))
				if err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, "Signed url:", signed)
				return nil
			},
		},
	}
}
