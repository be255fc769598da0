// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package termcolor

import (
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	renderersOnce sync.Once
	renderers     map[ColorLevel]*lipgloss.Renderer
)

// Renderer returns a shared lipgloss renderer pinned to level. The
// renderer never inspects a real terminal: its profile is fixed and the
// background is assumed dark. Unknown levels get the None renderer.
func Renderer(level ColorLevel) *lipgloss.Renderer {
	renderersOnce.Do(func() {
		renderers = make(map[ColorLevel]*lipgloss.Renderer, len(Levels))
		for _, candidate := range Levels {
			// SetColorProfile pins the profile; without it lipgloss
			// re-detects from the environment on first use.
			renderer := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(candidate.Profile()))
			renderer.SetColorProfile(candidate.Profile())
			renderer.SetHasDarkBackground(true)
			renderers[candidate] = renderer
		}
	})
	if renderer, ok := renderers[level]; ok {
		return renderer
	}
	return renderers[None]
}

// Paint renders text in the given ANSI base color (0-7) at level.
// At None the text is returned unchanged.
func Paint(level ColorLevel, color int, bold bool, text string) string {
	if level == None || !level.Valid() {
		return text
	}
	style := Renderer(level).NewStyle().Foreground(lipgloss.Color(strconv.Itoa(color & 7)))
	if bold {
		style = style.Bold(true)
	}
	return style.Render(text)
}

// Faint renders text with the faint attribute at level.
func Faint(level ColorLevel, text string) string {
	if level == None || !level.Valid() {
		return text
	}
	return Renderer(level).NewStyle().Faint(true).Render(text)
}
