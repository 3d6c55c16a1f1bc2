package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRegistryEmbeddedDefaults(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)

	meta, err := r.UseCaseMeta("POLITICAL_SNAPSHOT")
	require.NoError(t, err)
	assert.Equal(t, "PoliticalSnapshot", meta.WorkbookName)
	assert.Equal(t, "political-ads", meta.SiteName)

	cat, err := r.ViewCatalog("POLITICAL_SNAPSHOT")
	require.NoError(t, err)
	require.Len(t, cat.Views, 3)

	// Catalog order is significant and must survive the round trip.
	assert.Equal(t, "TOTAL_SPEND", cat.Views[0].Key)
	assert.Equal(t, "TOTAL_IMPRESSIONS", cat.Views[1].Key)
	assert.Equal(t, "CHANNEL_DATA", cat.Views[2].Key)
	assert.Equal(t, ViewTypeFlagCard, cat.Views[0].Type)
	assert.Equal(t, ViewTypeTable, cat.Views[2].Type)
	assert.Equal(t, "vf_Channel", cat.FilterBindings["CHANNEL"])

	sm, err := r.SlideManifest("POLITICAL_SNAPSHOT")
	require.NoError(t, err)
	assert.Equal(t, "LAYOUT_WIDE", sm.Layout)
	assert.NotEmpty(t, sm.Slides)
}

func TestRegistryUnknownUseCase(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)

	_, err = r.UseCaseMeta("DOES_NOT_EXIST")
	assert.ErrorIs(t, err, ErrUseCaseNotFound)
	_, err = r.ViewCatalog("DOES_NOT_EXIST")
	assert.ErrorIs(t, err, ErrUseCaseNotFound)
	_, err = r.SlideManifest("DOES_NOT_EXIST")
	assert.ErrorIs(t, err, ErrUseCaseNotFound)
}

func TestLoadRegistryRejectsInvalidManifests(t *testing.T) {
	cases := []struct {
		name   string
		views  string
		slides string
	}{
		{
			name: "unknown view type",
			views: `{"X":{"views":[{"key":"V","name":"v","type":"SCATTER","columns":[],"filters":[]}],
				"filterBindings":{}}}`,
			slides: `{}`,
		},
		{
			name: "unknown column format",
			views: `{"X":{"views":[{"key":"V","name":"v","type":"TABLE",
				"columns":[{"field":"a","column":"A","display":"A","format":"MONEY","needed":true}],
				"filters":[]}],"filterBindings":{}}}`,
			slides: `{}`,
		},
		{
			name: "filter without binding",
			views: `{"X":{"views":[{"key":"V","name":"v","type":"TABLE","columns":[],
				"filters":["REGION"]}],"filterBindings":{}}}`,
			slides: `{}`,
		},
		{
			name: "slide dataKey references unknown view",
			views: `{"X":{"views":[{"key":"V","name":"v","type":"TABLE","columns":[],"filters":[]}],
				"filterBindings":{}}}`,
			slides: `{"X":{"title":"x","slides":[{"elements":[
				{"type":"TABLE","position":{"x":0,"y":0,"w":1,"h":1},"dataKey":"NOPE"}]}]}}`,
		},
		{
			name: "unknown element type",
			views: `{"X":{"views":[{"key":"V","name":"v","type":"TABLE","columns":[],"filters":[]}],
				"filterBindings":{}}}`,
			slides: `{"X":{"title":"x","slides":[{"elements":[
				{"type":"VIDEO","position":{"x":0,"y":0,"w":1,"h":1}}]}]}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, fileUseCaseMapping, `{"X":{"workbookName":"W","siteName":"s"}}`)
			writeManifest(t, dir, fileTableauViews, tc.views)
			writeManifest(t, dir, fileSlideMapping, tc.slides)

			_, err := LoadRegistry(dir)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestLoadRegistryMissingWorkbookMapping(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, fileUseCaseMapping, `{}`)
	writeManifest(t, dir, fileTableauViews,
		`{"X":{"views":[{"key":"V","name":"v","type":"TABLE","columns":[],"filters":[]}],"filterBindings":{}}}`)
	writeManifest(t, dir, fileSlideMapping, `{}`)

	_, err := LoadRegistry(dir)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}
