package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"v.io/x/lib/vlog"

	"github.com/covasquezv/go-ctscan"
)

func readOptions(c config) ctscan.ReadOptions {
	return ctscan.ReadOptions{SeriesUID: c.SeriesUID, Workers: c.Workers}
}

// readSeries reads one series from a directory or a zip archive.
func readSeries(ctx context.Context, path string, opts ctscan.ReadOptions) (*ctscan.Series, error) {
	src, err := ctscan.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer ctscan.CloseSource(src)
	return ctscan.ReadSeries(ctx, src, opts)
}

// readLabels reads a label map stored as a series. Labels are always the
// only series of their source, so the --series-uid selection does not apply.
func readLabels(ctx context.Context, path string, c config) (*ctscan.Volume[uint8], error) {
	s, err := readSeries(ctx, path, ctscan.ReadOptions{Workers: c.Workers})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: labels", path)
	}
	return ctscan.LabelsFromVolume(s.Volume), nil
}

func writeParams(c config, s *ctscan.Series) (ctscan.WriteParams, error) {
	p := ctscan.ParamsFromSeries(s, c.SeriesID, c.Description)
	comp, err := ctscan.ParseCompression(c.Compression)
	if err != nil {
		return p, err
	}
	p.Compression = comp
	p.Manifest = c.Manifest
	return p, nil
}

// writeRGB writes rgb as a derived series of s.
func writeRGB(ctx context.Context, c config, s *ctscan.Series, rgb *ctscan.Volume[uint8], out string) (*ctscan.WriteResult, error) {
	p, err := writeParams(c, s)
	if err != nil {
		return nil, err
	}
	sink, err := ctscan.CreateSink(out)
	if err != nil {
		return nil, err
	}
	res, err := ctscan.WriteRGBSeries(ctx, rgb, sink, p)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	return res, err
}

func addWriteFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("series-id", "1", "numeric component of the new SeriesInstanceUID")
	f.String("description", "", "SeriesDescription of the new series")
	f.String("compression", "none", `pixel data compression, "none" or "jpeg"`)
	f.Bool("manifest", false, "also write manifest.yaml")
}

func printResult(w io.Writer, res *ctscan.WriteResult, out string) {
	fmt.Fprintf(w, "%s: series %s, %d files, %s\n",
		out, res.SeriesInstanceUID, len(res.Files), humanize.Bytes(uint64(res.Bytes)))
}

func newSeriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "series <dir|zip>",
		Short: "List the DICOM series stored in a directory or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSeries(cmd.Context(), cmd.OutOrStdout(), c, args[0])
		},
	}
}

func runSeries(ctx context.Context, w io.Writer, c config, path string) error {
	src, err := ctscan.OpenSource(path)
	if err != nil {
		return err
	}
	defer ctscan.CloseSource(src)
	infos, err := ctscan.ListSeries(ctx, src, readOptions(c))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tMODALITY\tFILES\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.SeriesInstanceUID, info.Modality, len(info.Files), info.SeriesDescription)
	}
	return tw.Flush()
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <dir|zip>",
		Short: "Print the geometry, metadata and intensity statistics of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runInfo(cmd.Context(), cmd.OutOrStdout(), c, args[0])
		},
	}
	cmd.Flags().String("labels", "", "label series measured against the CT")
	return cmd
}

func runInfo(ctx context.Context, w io.Writer, c config, path string) error {
	s, err := readSeries(ctx, path, readOptions(c))
	if err != nil {
		return err
	}
	var labels *ctscan.Volume[uint8]
	if c.Labels != "" {
		if labels, err = readLabels(ctx, c.Labels, c); err != nil {
			return err
		}
	}
	st, err := ctscan.ComputeStats(s.Volume, labels, s.Geometry)
	if err != nil {
		return err
	}
	m, g := s.Metadata, s.Geometry
	fmt.Fprintf(w, "series:      %s\n", m.SeriesInstanceUID)
	fmt.Fprintf(w, "study:       %s %s\n", m.StudyInstanceUID, m.StudyDescription)
	fmt.Fprintf(w, "patient:     %s\n", m.PatientID)
	fmt.Fprintf(w, "modality:    %s\n", m.Modality)
	fmt.Fprintf(w, "volume:      %v, %s\n", s.Volume, humanize.Bytes(uint64(s.Volume.Bytes())))
	fmt.Fprintf(w, "origin:      %v\n", g.Origin)
	fmt.Fprintf(w, "spacing:     %v\n", g.Spacing)
	fmt.Fprintf(w, "orientation: %v\n", g.Direction[:6])
	fmt.Fprintf(w, "%v\n", st)
	return nil
}

func newWindowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window <in> <out>",
		Short: "Apply the pulmonary window and write an 8-bit grayscale series",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWindow(cmd.Context(), cmd.OutOrStdout(), c, args[0], args[1])
		},
	}
	addWriteFlags(cmd)
	return cmd
}

func runWindow(ctx context.Context, w io.Writer, c config, in, out string) error {
	s, err := readSeries(ctx, in, readOptions(c))
	if err != nil {
		return err
	}
	gray, err := ctscan.PulmonaryWindowVolume(s.Volume)
	if err != nil {
		return err
	}
	p, err := writeParams(c, s)
	if err != nil {
		return err
	}
	sink, err := ctscan.CreateSink(out)
	if err != nil {
		return err
	}
	res, err := ctscan.WriteSeries(ctx, gray, sink, p)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	printResult(w, res, out)
	return nil
}

func newOverlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overlay <ct> <labels> <out>",
		Short: "Blend lesion labels over the windowed CT and write an RGB series",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runOverlay(cmd.Context(), cmd.OutOrStdout(), c, args[0], args[1], args[2])
		},
	}
	addWriteFlags(cmd)
	cmd.Flags().Float64("opacity", 0.3, "label opacity in [0, 1]")
	return cmd
}

func runOverlay(ctx context.Context, w io.Writer, c config, ctPath, labelsPath, out string) error {
	s, err := readSeries(ctx, ctPath, readOptions(c))
	if err != nil {
		return err
	}
	labels, err := readLabels(ctx, labelsPath, c)
	if err != nil {
		return err
	}
	opts := ctscan.DefaultOverlayOptions()
	opts.Opacity = c.Opacity
	rgb, err := ctscan.OverlayCT(s.Volume, labels, opts)
	if err != nil {
		return err
	}
	res, err := writeRGB(ctx, c, s, rgb, out)
	if err != nil {
		return err
	}
	printResult(w, res, out)
	return nil
}

func newContourCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contour <ct> <labels> <out>",
		Short: "Draw lung contours over the windowed CT and write an RGB series",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runContour(cmd.Context(), cmd.OutOrStdout(), c, args[0], args[1], args[2])
		},
	}
	addWriteFlags(cmd)
	return cmd
}

func runContour(ctx context.Context, w io.Writer, c config, ctPath, labelsPath, out string) error {
	s, err := readSeries(ctx, ctPath, readOptions(c))
	if err != nil {
		return err
	}
	labels, err := readLabels(ctx, labelsPath, c)
	if err != nil {
		return err
	}
	rgb, err := ctscan.ContourVolume(s.Volume, labels, ctscan.DefaultContourOptions())
	if err != nil {
		return err
	}
	res, err := writeRGB(ctx, c, s, rgb, out)
	if err != nil {
		return err
	}
	printResult(w, res, out)
	return nil
}

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <ct> <outdir>",
		Short: "Write PNG previews of the windowed CT, overlay or contours",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPreview(cmd.Context(), cmd.OutOrStdout(), c, args[0], args[1])
		},
	}
	f := cmd.Flags()
	f.String("labels", "", "label series, required by the overlay and contour modes")
	f.String("mode", "window", `what to render: "window", "overlay" or "contour"`)
	f.Float64("scale", 1, "resize factor")
	f.Bool("annotate", false, "print the slice number on each image")
	f.Float64("opacity", 0.3, "label opacity in overlay mode")
	return cmd
}

func runPreview(ctx context.Context, w io.Writer, c config, ctPath, outDir string) error {
	s, err := readSeries(ctx, ctPath, readOptions(c))
	if err != nil {
		return err
	}
	var vol *ctscan.Volume[uint8]
	switch mode := strings.ToLower(c.Mode); mode {
	case "window", "":
		vol, err = ctscan.PulmonaryWindowVolume(s.Volume)
	case "overlay", "contour":
		if c.Labels == "" {
			return errors.Errorf("preview: --labels is required in %s mode", mode)
		}
		labels, lerr := readLabels(ctx, c.Labels, c)
		if lerr != nil {
			return lerr
		}
		if mode == "overlay" {
			opts := ctscan.DefaultOverlayOptions()
			opts.Opacity = c.Opacity
			vol, err = ctscan.OverlayCT(s.Volume, labels, opts)
		} else {
			vol, err = ctscan.ContourVolume(s.Volume, labels, ctscan.DefaultContourOptions())
		}
	default:
		return errors.Errorf("preview: unknown mode %q", c.Mode)
	}
	if err != nil {
		return err
	}
	paths, err := ctscan.WritePreviews(ctx, vol, outDir, ctscan.PreviewOptions{Scale: c.Scale, Annotate: c.Annotate})
	if err != nil {
		return err
	}
	vlog.Infof("%s: %d previews", outDir, len(paths))
	fmt.Fprintf(w, "%s: %d images\n", outDir, len(paths))
	return nil
}
