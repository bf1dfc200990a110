// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"io"

	"rtpi-cli/internal/compose"
	"rtpi-cli/internal/fallback"
	"rtpi-cli/internal/tags"
	"rtpi-cli/pkg/types"

	"github.com/charmbracelet/log"
)

const (
	// StepResolveImages probes every required image and picks a candidate.
	StepResolveImages types.StepName = "resolve-images"
	// StepWriteTags persists the resolved-tag file.
	StepWriteTags types.StepName = "write-tags"
	// StepRenderManifest renders and installs the compose manifest.
	StepRenderManifest types.StepName = "render-manifest"
)

type (
	// Resolver picks an image for each required variable.
	// *fallback.Resolver satisfies it.
	Resolver interface {
		ResolveAll(ctx context.Context, images []fallback.Image) ([]fallback.ResolvedTag, error)
	}

	// Renderer installs a manifest. *compose.Generator satisfies it.
	Renderer interface {
		Generate(ctx context.Context, req compose.Request) (*compose.Report, error)
	}

	// Pipeline wires the image resolution and manifest rendering
	// components into installer steps.
	Pipeline struct {
		Resolver Resolver
		Images   []fallback.Image
		Tags     *tags.Store
		Renderer Renderer
		// Request carries the template and output paths. Vars is filled from
		// the resolved-tag file.
		Request compose.Request
		Logger  *log.Logger

		resolved []fallback.ResolvedTag
		report   *compose.Report
	}
)

// Steps returns resolve-images, write-tags and render-manifest.
func (p *Pipeline) Steps() []Step {
	return []Step{
		{
			Name:        StepResolveImages,
			Description: "probe registries and choose an image for every service",
			Run:         p.resolveImages,
		},
		{
			Name:        StepWriteTags,
			Description: "write the resolved-tag file",
			DependsOn:   []types.StepName{StepResolveImages},
			Run:         p.writeTags,
		},
		{
			Name:        StepRenderManifest,
			Description: "render and validate the compose manifest",
			DependsOn:   []types.StepName{StepWriteTags},
			Run:         p.renderManifest,
		},
	}
}

// Resolved returns the tags chosen by this run, or nil when resolution was
// skipped.
func (p *Pipeline) Resolved() []fallback.ResolvedTag { return p.resolved }

// Report returns the generation report, or nil when rendering was skipped.
func (p *Pipeline) Report() *compose.Report { return p.report }

func (p *Pipeline) logger() *log.Logger {
	if p.Logger == nil {
		return log.New(io.Discard)
	}
	return p.Logger
}

func (p *Pipeline) resolveImages(ctx context.Context) error {
	resolved, err := p.Resolver.ResolveAll(ctx, p.Images)
	if err != nil {
		return err
	}
	if warn := fallback.Warnings(resolved); warn != nil {
		p.logger().Warn("some images are degraded", "err", warn)
	}
	p.resolved = resolved
	return nil
}

// writeTags resolves again when resolve-images was skipped by its
// checkpoint but the tag file was never written. The file is left alone once
// ctx is done.
func (p *Pipeline) writeTags(ctx context.Context) error {
	if p.resolved == nil {
		if err := p.resolveImages(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := make(tags.Mapping, len(p.resolved))
	for _, t := range p.resolved {
		m[t.Variable] = t.Image
	}
	return p.Tags.Write(m)
}

func (p *Pipeline) renderManifest(ctx context.Context) error {
	loaded, stats, err := p.Tags.Load()
	if err != nil {
		return err
	}
	if stats.Malformed > 0 {
		p.logger().Warn("skipped malformed lines in resolved-tag file", "path", p.Tags.Path(), "lines", stats.MalformedLines)
	}

	req := p.Request
	req.Vars = tags.ApplyDefaults(loaded, Defaults(p.Images)).Env()
	report, err := p.Renderer.Generate(ctx, req)
	if err != nil {
		return err
	}
	p.report = report
	return nil
}

// Defaults returns the hardcoded default of every image that declares one.
func Defaults(images []fallback.Image) tags.Mapping {
	m := make(tags.Mapping, len(images))
	for _, img := range images {
		if img.Default != "" {
			m[img.Variable] = img.Default
		}
	}
	return m
}

