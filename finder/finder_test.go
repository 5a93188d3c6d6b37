package finder_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/finder"
	"github.com/airbusgeo/usgs-product-finder/service"
)

var _ = Describe("Finder", func() {
	var (
		err        error
		tmpDir     string
		cacheDir   string
		downloader *MockDownloader
		f          *finder.Finder
		products   []string
	)

	BeforeEach(func() {
		tmpDir, err = os.MkdirTemp("", "finder")
		Expect(err).NotTo(HaveOccurred())
		cacheDir = filepath.Join(tmpDir, "cache")
		downloader = &MockDownloader{content: syntheticCatalog}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	JustBeforeEach(func() {
		f, err = finder.New(ctx, finder.Config{
			GridFile:   writeTempFile(tmpDir, "wrs2.geojson", gridGeoJSON),
			CacheDir:   cacheDir,
			MaxAgeDays: 1,
		}, finder.WithDownloader(downloader))
		Expect(err).NotTo(HaveOccurred())
	})

	var itShouldNotTouchTheCache = func() {
		It("should not download anything", func() {
			Expect(downloader.Calls()).To(Equal(0))
			_, statErr := os.Stat(cacheDir)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	}

	Describe("FindByPathRow", func() {
		Context("when the cell and the satellite are valid", func() {
			JustBeforeEach(func() {
				products, err = f.FindByPathRow(ctx, 1, 1, common.Landsat8)
			})
			It("should return the products of the cell", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(products).To(Equal([]string{"ID-A"}))
			})
			It("should download the catalog once", func() {
				Expect(downloader.Calls()).To(Equal(1))
				Expect(downloader.urls[0]).To(HaveSuffix("LANDSAT_OT_C2_L1.csv.gz"))
				_, err = f.FindByPathRow(ctx, 1, 2, common.Landsat9)
				Expect(err).NotTo(HaveOccurred())
				Expect(downloader.Calls()).To(Equal(1))
			})
		})

		Context("when the satellite is invalid", func() {
			JustBeforeEach(func() {
				products, err = f.FindByPathRow(ctx, 1, 1, 6)
			})
			It("should return ErrInvalidSatellite", func() {
				Expect(errors.As(err, &common.ErrInvalidSatellite{})).To(BeTrue())
				Expect(products).To(BeNil())
			})
			itShouldNotTouchTheCache()
		})

		Context("when the cell does not exist", func() {
			JustBeforeEach(func() {
				products, err = f.FindByPathRow(ctx, 5, 5, common.Landsat7)
			})
			It("should return ErrUnknownCell", func() {
				var e common.ErrUnknownCell
				Expect(errors.As(err, &e)).To(BeTrue())
				Expect(e.Path).To(Equal(5))
				Expect(e.Row).To(Equal(5))
			})
		})
	})

	Describe("FindByWKT", func() {
		Context("when the polygon covers both cells", func() {
			JustBeforeEach(func() {
				products, err = f.FindByWKT(ctx, "POLYGON ((0.2 -0.5, 0.8 -0.5, 0.8 0.5, 0.2 0.5, 0.2 -0.5))", common.Landsat8)
			})
			It("should return the products of both cells in catalog order", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(products).To(Equal([]string{"ID-A", "ID-B"}))
			})
		})

		Context("when the polygon is disjoint from the grid", func() {
			JustBeforeEach(func() {
				products, err = f.FindByWKT(ctx, "POLYGON ((10 10, 11 10, 11 11, 10 11, 10 10))", common.Landsat5)
			})
			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(products).To(BeEmpty())
			})
		})

		Context("when the wkt is malformed", func() {
			JustBeforeEach(func() {
				products, err = f.FindByWKT(ctx, "NOT_WKT", common.Landsat8)
			})
			It("should return ErrGeometryParse", func() {
				Expect(errors.As(err, &common.ErrGeometryParse{})).To(BeTrue())
			})
			itShouldNotTouchTheCache()
		})

		Context("when both the wkt and the satellite are invalid", func() {
			JustBeforeEach(func() {
				products, err = f.FindByWKT(ctx, "NOT_WKT", 3)
			})
			It("should report the satellite first", func() {
				Expect(errors.As(err, &common.ErrInvalidSatellite{})).To(BeTrue())
			})
			itShouldNotTouchTheCache()
		})
	})

	Describe("FindByGeoJSON", func() {
		It("should merge the features of a collection", func() {
			fc := `{"type":"FeatureCollection","features":[
				{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0.1,0.1],[0.2,0.1],[0.2,0.2],[0.1,0.1]]]}},
				{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0.1,-0.1],[0.2,-0.1],[0.2,-0.2],[0.1,-0.1]]]}}
			]}`
			products, err = f.FindByGeoJSON(ctx, []byte(fc), common.Landsat8)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(Equal([]string{"ID-A", "ID-B"}))
		})
		It("should reject invalid json", func() {
			_, err = f.FindByGeoJSON(ctx, []byte("{"), common.Landsat8)
			Expect(errors.As(err, &common.ErrGeometryParse{})).To(BeTrue())
			Expect(downloader.Calls()).To(Equal(0))
		})
	})

	Describe("Search options", func() {
		BeforeEach(func() {
			downloader.content = "Landsat Product Identifier L1,Date Acquired,WRS Path,WRS Row\n" +
				"LC08_L1TP_001001_20200101_20200113_02_T1,2020-01-01,1,1\n" +
				"LC09_L1TP_001001_20220315_20220317_02_T1,2022-03-15,1,1\n"
		})
		It("should return both satellites of the family by default", func() {
			products, err = f.FindByPathRow(ctx, 1, 1, common.Landsat9)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(HaveLen(2))
		})
		It("should filter by satellite in strict mode", func() {
			products, err = f.FindByPathRow(ctx, 1, 1, common.Landsat9, finder.StrictSatellite())
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(Equal([]string{"LC09_L1TP_001001_20220315_20220317_02_T1"}))
		})
		It("should filter by acquisition date", func() {
			products, err = f.FindByPathRow(ctx, 1, 1, common.Landsat8, finder.AcquiredBetween(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)))
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(Equal([]string{"LC08_L1TP_001001_20200101_20200113_02_T1"}))
		})
	})

	Describe("Catalog download", func() {
		Context("when the download fails", func() {
			BeforeEach(func() {
				downloader.err = service.MakeTemporary(fmt.Errorf("connection reset by peer"))
			})
			It("should return ErrCatalogDownload", func() {
				_, err = f.FindByPathRow(ctx, 1, 1, common.Landsat8)
				Expect(errors.As(err, &common.ErrCatalogDownload{})).To(BeTrue())
				Expect(service.Temporary(err)).To(BeTrue())
			})
		})

		It("should refresh on demand", func() {
			_, err = f.FindByPathRow(ctx, 1, 1, common.Landsat8)
			Expect(err).NotTo(HaveOccurred())
			file, err := f.Refresh(ctx, common.Landsat8)
			Expect(err).NotTo(HaveOccurred())
			Expect(file).To(Equal(filepath.Join(cacheDir, "LANDSAT_OT_C2_L1.csv.gz")))
			Expect(downloader.Calls()).To(Equal(2))

			status, err := f.Status(common.Landsat8)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Exists).To(BeTrue())
			Expect(status.Fresh).To(BeTrue())
		})
	})

	Describe("New", func() {
		It("should fail without a valid grid", func() {
			_, err := finder.New(ctx, finder.Config{GridFile: filepath.Join(tmpDir, "missing.geojson"), CacheDir: cacheDir})
			Expect(errors.As(err, &common.ErrReferenceData{})).To(BeTrue())

			_, err = finder.New(ctx, finder.Config{GridFile: writeTempFile(tmpDir, "empty.geojson", `{"type":"FeatureCollection","features":[]}`), CacheDir: cacheDir})
			Expect(errors.As(err, &common.ErrReferenceData{})).To(BeTrue())
		})
	})
})
