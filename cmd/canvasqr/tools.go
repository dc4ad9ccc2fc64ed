/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"canvasqr/internal/canvas"
	"canvasqr/internal/client"
	"canvasqr/internal/config"
	"canvasqr/internal/domain"
	"canvasqr/internal/layout"
	"canvasqr/internal/qr"
	"canvasqr/internal/render"
	"canvasqr/internal/server"
	"canvasqr/internal/templatepack"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		out     string
		format  string
		scale   float64
		quality int
		lang    string
		title   string
	)
	cmd := &cobra.Command{
		Use:   "render <canvas.json>",
		Short: "Export a canvas file as html, svg, png, jpeg or pdf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := canvas.Validate(data); err != nil {
				return err
			}
			doc, err := canvas.Parse(data)
			if err != nil {
				return err
			}
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
			}
			if format == "jpg" {
				format = "jpeg"
			}
			sc := render.Build(doc, render.Options{Layout: layout.Options{LegacyCenterText: a.cfg.General.LegacyCenterText}})
			var body []byte
			switch format {
			case "html", "htm":
				if lang == "" {
					lang = a.cfg.General.DefaultLocale
				}
				body = []byte(render.HTML(sc, render.HTMLOptions{Title: title, Lang: lang}))
			case "svg":
				body, err = render.SVG(sc)
			case "png", "jpeg":
				body, err = render.Raster(sc, render.RasterOptions{Scale: scale, Format: format, Quality: quality})
			case "pdf":
				body, err = render.PDFWith(sc, render.PDFOptions{Title: title})
			default:
				return fmt.Errorf("unknown format %q (want html, svg, png, jpeg or pdf)", format)
			}
			if err != nil {
				return fmt.Errorf("render %s: %w", format, err)
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := qr.WriteArtifact(out, body); err != nil {
				return err
			}
			a.l.Info("rendered", slog.String("file", out), slog.String("format", format), slog.Int("bytes", len(body)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file; format follows its extension (default stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "html, svg, png, jpeg or pdf")
	cmd.Flags().Float64Var(&scale, "scale", 1, "Raster scale factor")
	cmd.Flags().IntVar(&quality, "quality", 0, "JPEG quality (1-100)")
	cmd.Flags().StringVar(&lang, "lang", "", "HTML lang attribute")
	cmd.Flags().StringVar(&title, "title", "", "Document title")
	return cmd
}

func newQRCmd(a *app) *cobra.Command {
	var (
		outDir     string
		format     string
		resolution int
		style      string
		content    string
		locale     string
	)
	cmd := &cobra.Command{
		Use:   "qr <design-id-or-slug>",
		Short: "Write the QR code of a workspace design",
		Long:  "Encodes the design's public viewer URL (or --content) with its stored QR styling and writes qr-code-<id>[-<res>px][-<style>].<ext>.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()
			d, err := ws.FindDesignBySlug(ctx, args[0])
			if errors.Is(err, domain.ErrNotFound) {
				d, err = ws.LoadDesign(ctx, args[0])
			}
			if err != nil {
				return fmt.Errorf("design %s: %w", args[0], err)
			}
			if locale == "" {
				locale = a.cfg.General.DefaultLocale
			}
			target := content
			if target == "" {
				slugOrID := d.Slug
				if slugOrID == "" {
					slugOrID = d.ID
				}
				target = qr.ViewerURL(a.cfg.General.PublicOrigin, locale, slugOrID)
			}
			var opts qr.Options
			if d.QRMetadata != nil {
				opts = qr.FromMetadata(target, *d.QRMetadata)
			} else {
				opts = qr.Options{
					Content:       target,
					Size:          a.cfg.QR.DefaultSize,
					Foreground:    a.cfg.QR.Foreground,
					Background:    a.cfg.QR.Background,
					IncludeMargin: a.cfg.QR.IncludeMargin,
				}
			}
			if style != "" {
				opts.Style = qr.Style(style)
			}
			code, err := qr.Generate(opts)
			if err != nil {
				return err
			}
			ext, err := qr.Ext(format)
			if err != nil {
				return err
			}
			var body []byte
			if ext == "svg" {
				body = code.SVG()
			} else if body, err = code.Raster(format, resolution); err != nil {
				return err
			}
			name, err := qr.ArtifactName(d.ID, format, resolution, code.Options().Style)
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, name)
			if err := qr.WriteArtifact(path, body); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "Directory for the code file")
	cmd.Flags().StringVarP(&format, "format", "f", "png", "png, jpeg or svg")
	cmd.Flags().IntVarP(&resolution, "resolution", "r", 0, "Raster width in pixels (0 keeps the natural size)")
	cmd.Flags().StringVar(&style, "style", "", "Frame style: none, classic, rounded, banner or badge")
	cmd.Flags().StringVar(&content, "content", "", "Encode this text instead of the viewer URL")
	cmd.Flags().StringVar(&locale, "locale", "", "Viewer URL locale")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		name   string
		public bool
	)
	cmd := &cobra.Command{
		Use:   "import <canvas.json>...",
		Short: "Create workspace designs from canvas files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				if err := canvas.Validate(data); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				doc, err := canvas.Parse(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				n := name
				if n == "" || len(args) > 1 {
					n = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				}
				w, h := doc.Size(render.DefaultWidth, render.DefaultHeight)
				d := domain.NewDesign(n, w, h)
				d.CanvasData = doc.Bytes()
				d.IsPublic = public
				if err := ws.SaveDesign(ctx, d); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.ID, d.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Design name (single file only; default is the file name)")
	cmd.Flags().BoolVar(&public, "public", false, "Mark the designs public")
	return cmd
}

func newTemplatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List, export and install template packs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workspace templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()
			ts, err := ws.ListTemplates(ctx)
			if err != nil {
				return err
			}
			for _, t := range ts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%gx%g\n", t.ID, t.Name, t.Width, t.Height)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <pack.zip> [template-id...]",
		Short: "Write templates to a pack (all when no ids are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()
			n, err := templatepack.Export(ctx, ws, args[1:], args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d templates written to %s\n", n, args[0])
			return nil
		},
	})
	var tplName string
	from := &cobra.Command{
		Use:   "from-design <design-id>",
		Short: "Save a workspace design as a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()
			d, err := ws.LoadDesign(ctx, args[0])
			if err != nil {
				return err
			}
			t := d.AsTemplate(tplName)
			if err := ws.SaveTemplate(ctx, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, t.Name)
			return nil
		},
	}
	from.Flags().StringVar(&tplName, "name", "", "Template name (default: the design name)")
	cmd.AddCommand(from)
	var overwrite bool
	install := &cobra.Command{
		Use:   "install <pack.zip>",
		Short: "Install the templates of a pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()
			res, err := templatepack.Install(ctx, ws, args[0], overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %d, skipped %d\n", len(res.Installed), len(res.Skipped))
			return nil
		},
	}
	install.Flags().BoolVar(&overwrite, "overwrite", false, "Replace templates with the same id")
	cmd.AddCommand(install)
	return cmd
}

func newPushCmd(a *app) *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload workspace designs to the remote backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.sec.BackendToken == "" {
				return fmt.Errorf("no backend token; run 'canvasqr token set' or set %s", config.EnvBackendToken)
			}
			c := client.New(a.cfg.Backend, a.sec.BackendToken)
			if err := c.Ping(ctx); err != nil {
				return fmt.Errorf("backend %s: %w", a.cfg.Backend.BaseURL, err)
			}
			ws, err := a.workspace(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			const page = 100
			pushed, skipped := 0, 0
			for offset := 0; ; offset += page {
				list, err := ws.ListDesigns(ctx, domain.ListFilter{IncludeArchived: includeArchived, Limit: page, Offset: offset})
				if err != nil {
					return err
				}
				for _, summary := range list {
					d, err := ws.LoadDesign(ctx, summary.ID)
					if err != nil {
						return err
					}
					remote, err := c.CreateDesign(ctx, d)
					if errors.Is(err, domain.ErrSlugTaken) {
						a.l.Warn("slug taken remotely; design skipped", slog.String("design", d.ID), slog.String("slug", d.Slug))
						skipped++
						continue
					}
					if err != nil {
						return fmt.Errorf("push %s: %w", d.ID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\t%s\n", d.ID, remote.ID, d.Name)
					pushed++
				}
				if len(list) < page {
					break
				}
			}
			a.l.Info("push finished", slog.Int("pushed", pushed), slog.Int("skipped", skipped))
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "Include archived designs")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store the remote backend token in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.SaveToken(strings.TrimSpace(args[0]))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored backend token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.DeleteToken()
		},
	})
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <owner-id>",
		Short: "Sign a bearer token for an owner with the server's auth secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sec.AuthSecret == "" {
				return fmt.Errorf("no auth secret; run 'canvasqr secret set' or set %s", config.EnvAuthSecret)
			}
			tok, err := server.SignToken(a.sec.AuthSecret, args[0], time.Now().Add(ttl))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	cmd.AddCommand(issue)
	return cmd
}

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the server's token signing secret",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <secret>",
		Short: "Store the auth secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := strings.TrimSpace(args[0])
			if len(s) < 16 {
				return errors.New("secret must be at least 16 characters")
			}
			return config.SaveAuthSecret(s)
		},
	})
	return cmd
}
