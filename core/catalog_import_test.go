package core

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func zipFromFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestParseCatalogArchive_Valid(t *testing.T) {
	data := zipFromFiles(t, map[string]string{
		"books/category.yaml": "name: \"Books\"\nslug: books\n",
		"books/products/go-book/product.yaml": `name: "Go Book"
slug: go-book
price_cents: 2599
quantity: 7
shipping: true
`,
		"books/products/go-book/description.md": "A book about Go.\n",
		"books/products/pen/product.yaml": `name: "Pen"
slug: pen
price_cents: 150
quantity: 100
`,
		"books/products/pen/description.md": "Writes.\n",
	})

	pkg, err := ParseCatalogArchive(data)
	if err != nil {
		t.Fatalf("ParseCatalogArchive error: %v", err)
	}
	if pkg.CategoryName != "Books" || pkg.CategorySlug != "books" {
		t.Fatalf("category = %q/%q", pkg.CategoryName, pkg.CategorySlug)
	}
	if len(pkg.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(pkg.Products))
	}
	// Sorted by directory name.
	if pkg.Products[0].Slug != "go-book" || pkg.Products[1].Slug != "pen" {
		t.Fatalf("slugs = %q, %q", pkg.Products[0].Slug, pkg.Products[1].Slug)
	}
	book := pkg.Products[0]
	if book.PriceCents != 2599 || book.Quantity != 7 || !book.Shipping {
		t.Fatalf("book fields wrong: %+v", book)
	}
	if !strings.Contains(book.Description, "A book about Go.") {
		t.Fatalf("description not taken from description.md: %q", book.Description)
	}
}

func TestParseCatalogArchive_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name: "missing category yaml",
			files: map[string]string{
				"books/products/pen/product.yaml":   "name: Pen\nslug: pen\nprice_cents: 1\nquantity: 1\n",
				"books/products/pen/description.md": "x",
			},
			want: "category.yaml not found",
		},
		{
			name: "folder slug mismatch",
			files: map[string]string{
				"wrong-folder/category.yaml":               "name: Books\nslug: books\n",
				"wrong-folder/products/pen/product.yaml":   "name: Pen\nslug: pen\nprice_cents: 1\nquantity: 1\n",
				"wrong-folder/products/pen/description.md": "x",
			},
			want: "does not match category slug",
		},
		{
			name: "no products",
			files: map[string]string{
				"books/category.yaml": "name: Books\nslug: books\n",
			},
			want: "no products",
		},
		{
			name: "missing description",
			files: map[string]string{
				"books/category.yaml":             "name: Books\nslug: books\n",
				"books/products/pen/product.yaml": "name: Pen\nslug: pen\nprice_cents: 1\nquantity: 1\n",
			},
			want: "description.md not found",
		},
		{
			name: "non-positive price",
			files: map[string]string{
				"books/category.yaml":               "name: Books\nslug: books\n",
				"books/products/pen/product.yaml":   "name: Pen\nslug: pen\nprice_cents: 0\nquantity: 1\n",
				"books/products/pen/description.md": "x",
			},
			want: "price_cents",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCatalogArchive(zipFromFiles(t, tc.files))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestParseCatalogArchive_NotAZip(t *testing.T) {
	if _, err := ParseCatalogArchive([]byte("plain text")); err == nil {
		t.Fatalf("expected error for non-zip input")
	}
	if _, err := ParseCatalogArchive(nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestBuildCatalogTemplateZip_ParsesBack(t *testing.T) {
	data, err := buildCatalogTemplateZip()
	if err != nil {
		t.Fatalf("buildCatalogTemplateZip error: %v", err)
	}

	pkg, err := ParseCatalogArchive(data)
	if err != nil {
		t.Fatalf("template must be importable: %v", err)
	}
	if pkg.CategorySlug != "sample-category" {
		t.Fatalf("category slug = %q", pkg.CategorySlug)
	}
	if len(pkg.Products) != 1 || pkg.Products[0].Slug != "sample-product" {
		t.Fatalf("products = %+v", pkg.Products)
	}
	if pkg.Products[0].PriceCents != 1999 || pkg.Products[0].Quantity != 10 {
		t.Fatalf("template product fields: %+v", pkg.Products[0])
	}
}
