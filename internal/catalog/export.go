package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tealeg/xlsx"

	"github.com/hitoshi/lunore/internal/repository"
)

// ExportContentType はカタログエクスポートのContent-Type。
const ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportFilename はカタログエクスポートのファイル名。
const ExportFilename = "products.xlsx"

var exportHeaders = []string{
	"ID", "Name", "Category", "Price", "Original Price", "Stock",
	"Featured", "Badge", "Sizes", "Colors", "Image", "Created At",
}

// Export は全商品をxlsx形式でwに書き出す。
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	products, err := s.products.List(ctx, repository.ProductFilter{})
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Products")
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range exportHeaders {
		header.AddCell().SetString(h)
	}

	for _, p := range products {
		row := sheet.AddRow()
		row.AddCell().SetString(p.ID)
		row.AddCell().SetString(p.Name)
		row.AddCell().SetString(string(p.Category))
		row.AddCell().SetFloat(p.Price)
		if p.OriginalPrice != nil {
			row.AddCell().SetFloat(*p.OriginalPrice)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetInt(p.Stock)
		row.AddCell().SetBool(p.Featured)
		row.AddCell().SetString(string(p.Badge))
		row.AddCell().SetString(strings.Join(p.Sizes, ", "))
		colors := make([]string, 0, len(p.Colors))
		for _, c := range p.Colors {
			colors = append(colors, c.Name)
		}
		row.AddCell().SetString(strings.Join(colors, ", "))
		row.AddCell().SetString(p.Image)
		row.AddCell().SetString(p.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}
