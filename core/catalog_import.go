package core

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	maxArchiveEntries   = 200
	maxArchiveTotalSize = 32 * 1024 * 1024
	maxArchiveFileSize  = 4 * 1024 * 1024
)

// CatalogProductInput is one product parsed from an import archive.
type CatalogProductInput struct {
	Name        string
	Slug        string
	Description string
	PriceCents  int64
	Quantity    int
	Shipping    bool
	PhotoURL    string
}

// CatalogImportInput is a category plus all its products, parsed from a zip.
type CatalogImportInput struct {
	CategoryName string
	CategorySlug string
	Products     []CatalogProductInput
}

// ParseCatalogArchive converts a zip catalog package into inline DTOs.
// Expected layout:
//
//	<category-slug>/
//	  category.yaml              (required: name, slug)
//	  products/<product-slug>/
//	    product.yaml             (required: name, slug, price_cents, quantity)
//	    description.md           (required)
//
// The top-level folder name must equal the category slug.
func ParseCatalogArchive(data []byte) (CatalogImportInput, error) {
	if len(data) == 0 {
		return CatalogImportInput{}, errors.New("archive is empty")
	}

	// Accept zip only
	if len(data) < 4 || !bytes.Equal(data[:4], []byte{'P', 'K', 0x03, 0x04}) {
		return CatalogImportInput{}, errors.New("only zip archives are supported")
	}

	files := map[string][]byte{}
	rootName, err := collectFromZip(data, files)
	if err != nil {
		return CatalogImportInput{}, err
	}
	if rootName == "" {
		return CatalogImportInput{}, errors.New("archive needs a top-level folder matching the category slug")
	}
	if len(files) == 0 {
		return CatalogImportInput{}, errors.New("archive has no usable files")
	}

	configBytes, ok := files["category.yaml"]
	if !ok {
		// tolerate a doubled top folder
		if stripPrefix(files, Slugify(rootName)+"/") {
			configBytes, ok = files["category.yaml"]
		}
	}
	if !ok {
		return CatalogImportInput{}, errors.New("category.yaml not found")
	}

	doc, err := parseCategoryYAML(configBytes)
	if err != nil {
		return CatalogImportInput{}, err
	}

	slug := Slugify(doc.Slug)
	if slug == "" {
		return CatalogImportInput{}, errors.New("category slug is required (lowercase letters, digits, hyphens)")
	}
	if slug != Slugify(rootName) {
		return CatalogImportInput{}, errors.New("top-level folder name does not match category slug")
	}

	// Group files by product directory.
	productFiles := map[string]map[string][]byte{}
	for name, content := range files {
		if !strings.HasPrefix(name, "products/") {
			continue
		}
		rest := strings.TrimPrefix(name, "products/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		dir, file := parts[0], parts[1]
		if productFiles[dir] == nil {
			productFiles[dir] = map[string][]byte{}
		}
		productFiles[dir][file] = content
	}

	if len(productFiles) == 0 {
		return CatalogImportInput{}, errors.New("archive contains no products (products/<slug>/)")
	}

	var dirs []string
	for dir := range productFiles {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var products []CatalogProductInput
	seen := map[string]struct{}{}
	for _, dir := range dirs {
		bundle := productFiles[dir]
		yml, ok := bundle["product.yaml"]
		if !ok {
			return CatalogImportInput{}, fmt.Errorf("products/%s/product.yaml not found", dir)
		}
		desc, ok := bundle["description.md"]
		if !ok {
			return CatalogImportInput{}, fmt.Errorf("products/%s/description.md not found", dir)
		}

		p, err := parseProductYAML(yml)
		if err != nil {
			return CatalogImportInput{}, fmt.Errorf("products/%s: %w", dir, err)
		}
		if p.Slug != Slugify(dir) {
			return CatalogImportInput{}, fmt.Errorf("products/%s: folder name does not match product slug %q", dir, p.Slug)
		}
		if _, dup := seen[p.Slug]; dup {
			return CatalogImportInput{}, fmt.Errorf("duplicate product slug %q", p.Slug)
		}
		seen[p.Slug] = struct{}{}

		p.Description = string(desc)
		products = append(products, p)
	}

	return CatalogImportInput{
		CategoryName: doc.Name,
		CategorySlug: slug,
		Products:     products,
	}, nil
}

type categoryDoc struct {
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

func parseCategoryYAML(b []byte) (categoryDoc, error) {
	var doc categoryDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("category.yaml is malformed: %w", err)
	}
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.Name == "" {
		return doc, errors.New("category name is required")
	}
	return doc, nil
}

type productDoc struct {
	Name       string `yaml:"name"`
	Slug       string `yaml:"slug"`
	PriceCents int64  `yaml:"price_cents"`
	Quantity   int    `yaml:"quantity"`
	Shipping   bool   `yaml:"shipping"`
	PhotoURL   string `yaml:"photo_url"`
}

func parseProductYAML(b []byte) (CatalogProductInput, error) {
	var doc productDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return CatalogProductInput{}, fmt.Errorf("product.yaml is malformed: %w", err)
	}
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.Name == "" {
		return CatalogProductInput{}, errors.New("product name is required")
	}
	slug := Slugify(doc.Slug)
	if slug == "" {
		slug = Slugify(doc.Name)
	}
	if slug == "" {
		return CatalogProductInput{}, errors.New("product slug is required")
	}
	if doc.PriceCents <= 0 {
		return CatalogProductInput{}, errors.New("price_cents must be positive")
	}
	if doc.Quantity < 0 {
		return CatalogProductInput{}, errors.New("quantity cannot be negative")
	}
	return CatalogProductInput{
		Name:       doc.Name,
		Slug:       slug,
		PriceCents: doc.PriceCents,
		Quantity:   doc.Quantity,
		Shipping:   doc.Shipping,
		PhotoURL:   strings.TrimSpace(doc.PhotoURL),
	}, nil
}

// collectFromZip reads zip entries into files map with size/entry/path validation.
func collectFromZip(data []byte, files map[string][]byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("cannot open zip: %w", err)
	}
	var total int64
	hasRootLevel := false
	dirRoots := map[string]struct{}{}
	type entry struct {
		name    string
		content []byte
	}
	var entries []entry

	for i, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if i+1 > maxArchiveEntries {
			return "", errors.New("too many archive entries (limit 200)")
		}
		norm := normalizeArchivePath(f.Name)
		if strings.HasPrefix(norm, "/") || strings.Contains(norm, "../") {
			return "", errors.New("archive contains an invalid path")
		}
		if f.UncompressedSize64 > maxArchiveFileSize {
			return "", fmt.Errorf("file %s too large (limit %d bytes)", f.Name, maxArchiveFileSize)
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("cannot open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArchiveFileSize))
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("cannot read %s: %w", f.Name, err)
		}
		if int64(len(content)) > maxArchiveFileSize {
			return "", fmt.Errorf("file %s too large (limit %d bytes)", f.Name, maxArchiveFileSize)
		}
		total += int64(len(content))
		if total > maxArchiveTotalSize {
			return "", errors.New("uncompressed archive too large (limit 32MB)")
		}
		entries = append(entries, entry{name: norm, content: content})
		parts := strings.Split(norm, "/")
		if len(parts) == 1 {
			hasRootLevel = true
		} else if len(parts) > 1 && parts[0] != "" {
			dirRoots[parts[0]] = struct{}{}
		}
	}
	if hasRootLevel {
		return "", errors.New("archive needs a single top-level folder")
	}
	if len(dirRoots) == 0 {
		return "", errors.New("no top-level folder found")
	}
	if len(dirRoots) > 1 {
		return "", errors.New("archive must have exactly one top-level folder")
	}
	var root string
	for k := range dirRoots {
		root = k
	}
	for _, e := range entries {
		name := e.name
		if root != "" && strings.HasPrefix(name, root+"/") {
			name = strings.TrimPrefix(name, root+"/")
		}
		if name == "" {
			continue
		}
		files[name] = e.content
	}
	return root, nil
}

func normalizeArchivePath(p string) string {
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "./")
	cleaned = strings.TrimPrefix(cleaned, "/")
	return cleaned
}

// stripPrefix removes a common prefix from all entries if category.yaml exists
// under that prefix. Returns true if the map was modified.
func stripPrefix(files map[string][]byte, prefix string) bool {
	if _, ok := files[prefix+"category.yaml"]; !ok {
		return false
	}
	newFiles := make(map[string][]byte, len(files))
	for k, v := range files {
		if !strings.HasPrefix(k, prefix) {
			newFiles[k] = v
			continue
		}
		nk := strings.TrimPrefix(k, prefix)
		if nk != "" {
			newFiles[nk] = v
		}
	}
	for k, v := range newFiles {
		files[k] = v
	}
	return true
}
