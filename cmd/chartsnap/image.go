package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

func newCompressCmd() *cobra.Command {
	opts := compress.DefaultOptions()
	var (
		rotate int
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "compress <file>...",
		Short: "Compress images the way the widget does and report the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edits := &model.Edits{Rotation: rotate}
			if err := edits.Validate(); err != nil {
				return err
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o750); err != nil {
					return err
				}
			}
			rows := make([][]string, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				res, err := compress.Render(data, edits, opts)
				if err != nil {
					rows = append(rows, []string{filepath.Base(path), humanize.IBytes(uint64(len(data))), "-", "-", "-", "-", err.Error()})
					continue
				}
				if outDir != "" {
					out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".jpg")
					if err := os.WriteFile(out, res.Data, 0o640); err != nil {
						return err
					}
				}
				rows = append(rows, []string{
					filepath.Base(path),
					humanize.IBytes(uint64(res.OriginalSize)),
					humanize.IBytes(uint64(res.Size())),
					fmt.Sprintf("%dx%d", res.Width, res.Height),
					strconv.Itoa(int(math.Round(res.Quality * 100))),
					strconv.Itoa(res.Attempts),
					compressNote(res, opts),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"File", "Original", "Compressed", "Size", "Quality", "Attempts", "Note"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.MaxSizeBytes, "max-bytes", opts.MaxSizeBytes, "Target size cap in bytes")
	cmd.Flags().IntVar(&opts.LongestEdgePx, "edge", opts.LongestEdgePx, "Longest edge in pixels")
	cmd.Flags().Float64Var(&opts.Quality, "quality", opts.Quality, "Initial JPEG quality (0-1)")
	cmd.Flags().IntVar(&rotate, "rotate", 0, "Clockwise rotation in degrees (multiple of 90)")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Write compressed JPEGs to this directory")
	return cmd
}

func compressNote(res *compress.Result, opts compress.Options) string {
	switch {
	case res.PassThrough:
		return "already small enough"
	case res.Size() > opts.MaxSizeBytes:
		return "over cap (best effort)"
	}
	return ""
}

func newQRCmd() *cobra.Command {
	var (
		size    int
		out     string
		dataURL bool
	)
	cmd := &cobra.Command{
		Use:   "qr <url>",
		Short: "Render a mobile upload URL as a QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			switch {
			case out != "":
				return qrcode.WriteFile(url, qrcode.Medium, size, out)
			case dataURL:
				png, err := qrcode.Encode(url, qrcode.Medium, size)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), compress.DataURL("image/png", png))
				return nil
			}
			code, err := qrcode.New(url, qrcode.Medium)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), code.ToSmallString(false))
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 256, "PNG size in pixels")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write a PNG to this path instead of printing")
	cmd.Flags().BoolVar(&dataURL, "data-url", false, "Print a data: URL instead of terminal blocks")
	return cmd
}
