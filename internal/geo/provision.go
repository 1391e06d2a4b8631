package geo

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Natural Earth 1:10m coastline (public domain)
	coastlineURL  = "https://naciscdn.org/naturalearth/10m/physical/ne_10m_coastline.zip"
	shapefileBase = "ne_10m_coastline"
)

// ProvisionCoastline makes sure the coastline shapefile is present in
// dataDir, downloading and extracting it if needed. It returns the .shp path.
func ProvisionCoastline(ctx context.Context, dataDir string, logger *slog.Logger) (string, error) {
	return provisionCoastline(ctx, http.DefaultClient, coastlineURL, dataDir, logger)
}

func provisionCoastline(ctx context.Context, client *http.Client, url, dataDir string, logger *slog.Logger) (string, error) {
	shapefilePath := filepath.Join(dataDir, shapefileBase+".shp")
	if _, err := os.Stat(shapefilePath); err == nil {
		return shapefilePath, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	zipPath := filepath.Join(dataDir, shapefileBase+".zip")
	logger.Info("downloading coastline shapefile", "url", url)
	if err := downloadFile(ctx, client, zipPath, url); err != nil {
		return "", fmt.Errorf("downloading shapefile: %w", err)
	}
	defer os.Remove(zipPath)

	if err := unzipFile(zipPath, dataDir); err != nil {
		return "", fmt.Errorf("extracting shapefile: %w", err)
	}

	if _, err := os.Stat(shapefilePath); err != nil {
		return "", fmt.Errorf("archive did not contain %s.shp", shapefileBase)
	}
	logger.Info("coastline shapefile ready", "path", shapefilePath)
	return shapefilePath, nil
}

func downloadFile(ctx context.Context, client *http.Client, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := path + ".part"
	if err := writeFile(tmp, resp.Body, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// shapefileParts are the archive members go-shp needs; everything else in
// the Natural Earth bundle is skipped.
var shapefileParts = map[string]bool{".shp": true, ".shx": true, ".dbf": true, ".prj": true}

// unzipFile extracts the shapefile members of src into dest, dropping any
// directory structure inside the archive.
func unzipFile(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	extracted := 0
	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || !strings.HasPrefix(name, shapefileBase) || !shapefileParts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		err = writeFile(filepath.Join(dest, name), rc, 0644)
		rc.Close()
		if err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		extracted++
	}
	if extracted == 0 {
		return fmt.Errorf("no %s files in archive", shapefileBase)
	}
	return nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
