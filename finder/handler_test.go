package finder_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/finder"
	"github.com/airbusgeo/usgs-product-finder/service"
)

var _ = Describe("Handler", func() {
	var (
		tmpDir     string
		downloader *MockDownloader
		router     *mux.Router
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "handler")
		Expect(err).NotTo(HaveOccurred())
		downloader = &MockDownloader{content: syntheticCatalog}
		f, err := finder.New(ctx, finder.Config{
			GridFile: writeTempFile(tmpDir, "wrs2.geojson", gridGeoJSON),
			CacheDir: filepath.Join(tmpDir, "cache"),
		}, finder.WithDownloader(downloader))
		Expect(err).NotTo(HaveOccurred())
		router = mux.NewRouter()
		f.AddHandler(router)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	do := func(method, target, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
		return w
	}

	Describe("GET /products", func() {
		It("should find the products of a path/row", func() {
			w := do("GET", "/products?satellite=8&path=1&row=1", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			var res finder.Result
			Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
			Expect(res.Satellite).To(Equal(common.Landsat8))
			Expect(res.Cells).To(Equal([]common.PathRow{{Path: 1, Row: 1}}))
			Expect(res.Products).To(Equal([]string{"ID-A"}))
		})
		It("should find the products of a wkt", func() {
			w := do("GET", "/products?satellite=landsat9&wkt="+url.QueryEscape("POLYGON ((0.2 -0.5, 0.8 -0.5, 0.8 0.5, 0.2 0.5, 0.2 -0.5))"), "")
			Expect(w.Code).To(Equal(http.StatusOK))
			var res finder.Result
			Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
			Expect(res.Products).To(Equal([]string{"ID-A", "ID-B"}))
		})
		It("should answer 400 on invalid parameters", func() {
			for _, target := range []string{
				"/products?satellite=6&path=1&row=1",
				"/products?path=1&row=1",
				"/products?satellite=8&wkt=NOT_WKT",
				"/products?satellite=8&path=1",
				"/products?satellite=8",
				"/products?satellite=8&path=9&row=9",
				"/products?satellite=8&path=1&row=1&start=notadate",
				"/products?satellite=8&path=1&row=1&strict=maybe",
			} {
				Expect(do("GET", target, "").Code).To(Equal(http.StatusBadRequest), target)
			}
			Expect(downloader.Calls()).To(Equal(0))
		})
		It("should answer 503 when the catalog is temporarily unavailable", func() {
			downloader.err = service.MakeTemporary(fmt.Errorf("503 Service Unavailable"))
			Expect(do("GET", "/products?satellite=8&path=1&row=1", "").Code).To(Equal(http.StatusServiceUnavailable))
		})
		It("should answer 502 when the catalog cannot be downloaded", func() {
			downloader.err = fmt.Errorf("404 Not Found")
			Expect(do("GET", "/products?satellite=8&path=1&row=1", "").Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("POST /products", func() {
		It("should find the products of a geojson", func() {
			w := do("POST", "/products?satellite=7", `{"type":"Polygon","coordinates":[[[0.5,-0.5],[0.6,-0.5],[0.6,-0.6],[0.5,-0.5]]]}`)
			Expect(w.Code).To(Equal(http.StatusOK))
			var res finder.Result
			Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
			Expect(res.Products).To(Equal([]string{"ID-B"}))
		})
		It("should answer 413 on a body larger than 32MiB", func() {
			w := do("POST", "/products?satellite=7", strings.Repeat(" ", 32<<20+1))
			Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(downloader.Calls()).To(Equal(0))
		})
	})

	Describe("GET /cells", func() {
		It("should resolve a wkt without downloading the catalog", func() {
			w := do("GET", "/cells?wkt="+url.QueryEscape("POINT (0.5 0.5)"), "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"cells":[{"path":1,"row":1}]}`))
			Expect(downloader.Calls()).To(Equal(0))
		})
		It("should answer 400 on an unknown cell", func() {
			Expect(do("GET", "/cells?path=3&row=3", "").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("/catalogs/{satellite}", func() {
		It("should report and refresh the catalog", func() {
			w := do("GET", "/catalogs/8", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"exists":false`))

			w = do("POST", "/catalogs/8", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"exists":true`))
			Expect(downloader.Calls()).To(Equal(1))

			Expect(do("GET", "/catalogs/2", "").Code).To(Equal(http.StatusBadRequest))
		})
		It("should accept a family", func() {
			w := do("POST", "/catalogs/ot", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"family":"OT"`))
			Expect(w.Body.String()).To(ContainSubstring(`"exists":true`))
			Expect(downloader.Calls()).To(Equal(1))

			Expect(do("GET", "/catalogs/mss", "").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /catalogs", func() {
		It("should list the catalogs of every family", func() {
			Expect(do("POST", "/catalogs/etm", "").Code).To(Equal(http.StatusOK))
			w := do("GET", "/catalogs", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			var statuses []struct {
				Family string `json:"family"`
				Exists bool   `json:"exists"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &statuses)).To(Succeed())
			Expect(statuses).To(HaveLen(3))
			for _, s := range statuses {
				Expect(s.Exists).To(Equal(s.Family == "ETM"))
			}
		})
	})
})
