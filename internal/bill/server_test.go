package bill

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/mveit/billscan/internal/parser"
	"github.com/mveit/billscan/internal/split"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		engine      *mockEngine
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(
			db, engine, storage, parser.New(parser.DefaultConfig()),
			&sequenceIDGenerator{}, &fixedTimeSource{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	seedBill := func(bill *Bill) {
		if bill.Assignments == nil {
			bill.Assignments = map[string][]string{}
		}
		db.bills[bill.ID] = bill
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		engine = &mockEngine{text: "Coffee      4.50\nBagel      3.25"}
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should return HTML", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("billscan"))
		})
	})

	Describe("handleCreateBill", func() {
		It("should return status Created", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/bills", "application/json", bytes.NewBufferString(`{"currency":"USD"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
		})

		It("should return a bill with the requested currency", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/bills", "application/json", bytes.NewBufferString(`{"currency":"EUR"}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var created billResponse
			Expect(json.NewDecoder(resp.Body).Decode(&created)).NotTo(HaveOccurred())
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.Currency).To(Equal("EUR"))
		})

		It("should default the currency when the body is empty", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/bills", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var created billResponse
			Expect(json.NewDecoder(resp.Body).Decode(&created)).NotTo(HaveOccurred())
			Expect(created.Currency).To(Equal("INR"))
		})
	})

	Describe("handleListBills", func() {
		When("bills exist", func() {
			BeforeEach(func() {
				seedBill(&Bill{ID: "id1", Currency: "USD"})
				seedBill(&Bill{ID: "id2", Currency: "INR"})
			})

			It("should return all bills", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var bills []billResponse
				Expect(json.NewDecoder(resp.Body).Decode(&bills)).NotTo(HaveOccurred())
				Expect(bills).To(HaveLen(2))
			})
		})

		When("no bills exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(MatchJSON("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("db error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetBill", func() {
		When("the bill exists and a split is computable", func() {
			BeforeEach(func() {
				seedBill(&Bill{
					ID:       "bill-1",
					Currency: "USD",
					Items: []Item{
						{ID: "item-1", Name: "Pizza", Price: 1000, Quantity: 1},
					},
					People: []Person{
						{ID: "p1", Name: "Asha"},
						{ID: "p2", Name: "Ravi"},
					},
					Mode: split.ModeEqual,
				})
			})

			It("should include the split with formatted amounts", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills/bill-1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var bill billResponse
				Expect(json.NewDecoder(resp.Body).Decode(&bill)).NotTo(HaveOccurred())
				Expect(bill.Split).NotTo(BeNil())
				Expect(bill.Split.Total).To(Equal(int64(1000)))
				Expect(bill.Split.TotalFormatted).To(Equal("$10.00"))
				Expect(bill.Split.PerPerson).To(HaveLen(2))
				Expect(bill.Split.PerPerson[0].Amount).To(Equal(int64(500)))
			})
		})

		When("the bill has no people yet", func() {
			BeforeEach(func() {
				seedBill(&Bill{ID: "bill-1", Currency: "USD"})
			})

			It("should report the split problem in-band", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills/bill-1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var bill billResponse
				Expect(json.NewDecoder(resp.Body).Decode(&bill)).NotTo(HaveOccurred())
				Expect(bill.Split).To(BeNil())
				Expect(bill.SplitError).NotTo(BeEmpty())
			})
		})

		When("the bill does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills/nope")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleScanReceipt", func() {
		var (
			resp *http.Response
			err  error
		)

		uploadScan := func(billID string, payload []byte) (*http.Response, error) {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, _ := writer.CreateFormFile("file", "receipt.png")
			part.Write(payload)
			writer.Close()
			return http.Post(ghttpServer.URL()+"/api/bills/"+billID+"/scan", writer.FormDataContentType(), &b)
		}

		BeforeEach(func() {
			seedBill(&Bill{ID: "bill-1", Currency: "USD"})
		})

		When("the scan succeeds", func() {
			JustBeforeEach(func() {
				resp, err = uploadScan("bill-1", testPNG())
			})

			It("should return the bill with parsed items", func() {
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var bill billResponse
				Expect(json.NewDecoder(resp.Body).Decode(&bill)).NotTo(HaveOccurred())
				Expect(bill.Items).To(HaveLen(2))
				Expect(bill.Items[0].Name).To(Equal("Coffee"))
			})
		})

		When("no items are recognized", func() {
			BeforeEach(func() {
				engine.text = "THANK YOU"
				setupServer()
				seedBill(&Bill{ID: "bill-1", Currency: "USD"})
			})

			JustBeforeEach(func() {
				resp, err = uploadScan("bill-1", testPNG())
			})

			It("should return 422 with the no_items code", func() {
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				var body map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&body)).NotTo(HaveOccurred())
				Expect(body["code"]).To(Equal("no_items"))
			})
		})

		When("the upload is not a decodable image", func() {
			JustBeforeEach(func() {
				resp, err = uploadScan("bill-1", []byte("not an image"))
			})

			It("should return 400 with the decode_failure code", func() {
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&body)).NotTo(HaveOccurred())
				Expect(body["code"]).To(Equal("decode_failure"))
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				engine.err = errors.New("tesseract exploded")
				setupServer()
				seedBill(&Bill{ID: "bill-1", Currency: "USD"})
			})

			JustBeforeEach(func() {
				resp, err = uploadScan("bill-1", testPNG())
			})

			It("should return status Internal Server Error for an unclassified failure", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/bills/bill-1/scan", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleAddItem", func() {
		BeforeEach(func() {
			seedBill(&Bill{ID: "bill-1", Currency: "USD"})
		})

		It("should return status Created with the new item", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/bills/bill-1/items", "application/json",
				bytes.NewBufferString(`{"name":"Pizza","price":1200,"quantity":2}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var bill billResponse
			Expect(json.NewDecoder(resp.Body).Decode(&bill)).NotTo(HaveOccurred())
			Expect(bill.Items).To(HaveLen(1))
			Expect(bill.Items[0].Quantity).To(Equal(2))
		})

		It("should reject an invalid item", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/bills/bill-1/items", "application/json",
				bytes.NewBufferString(`{"name":"","price":1200}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("handleSetAssignment", func() {
		BeforeEach(func() {
			seedBill(&Bill{
				ID:       "bill-1",
				Currency: "USD",
				Items:    []Item{{ID: "item-1", Name: "Pizza", Price: 1200, Quantity: 1}},
				People:   []Person{{ID: "p1", Name: "Asha"}},
			})
		})

		It("should replace the assignee set", func() {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/bills/bill-1/assignments/item-1",
				bytes.NewBufferString(`{"person_ids":["p1"]}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var bill billResponse
			Expect(json.NewDecoder(resp.Body).Decode(&bill)).NotTo(HaveOccurred())
			Expect(bill.Assignments).To(HaveKeyWithValue("item-1", []string{"p1"}))
		})

		It("should reject an unknown person", func() {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/bills/bill-1/assignments/item-1",
				bytes.NewBufferString(`{"person_ids":["ghost"]}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("handleUpdateBill", func() {
		BeforeEach(func() {
			seedBill(&Bill{ID: "bill-1", Currency: "USD"})
		})

		It("should apply tax and mode changes", func() {
			req, err := http.NewRequest(http.MethodPatch, ghttpServer.URL()+"/api/bills/bill-1",
				bytes.NewBufferString(`{"tax_percent":8.5,"mode":"assigned"}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var bill billResponse
			Expect(json.NewDecoder(resp.Body).Decode(&bill)).NotTo(HaveOccurred())
			Expect(bill.TaxPercent).To(Equal(8.5))
			Expect(bill.Mode).To(Equal(split.ModeAssigned))
		})

		It("should reject an unknown mode", func() {
			req, err := http.NewRequest(http.MethodPatch, ghttpServer.URL()+"/api/bills/bill-1",
				bytes.NewBufferString(`{"mode":"thirds"}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("handleGetSummary", func() {
		When("a split is computable", func() {
			BeforeEach(func() {
				seedBill(&Bill{
					ID:       "bill-1",
					Currency: "USD",
					Items:    []Item{{ID: "item-1", Name: "Pizza", Price: 1000, Quantity: 1}},
					People:   []Person{{ID: "p1", Name: "Asha"}, {ID: "p2", Name: "Ravi"}},
					Mode:     split.ModeEqual,
				})
			})

			It("should return the plain-text share summary", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills/bill-1/summary")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/plain; charset=utf-8"))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("Bill Split Result:\n\nTotal: $10.00\n\nAsha: $5.00\nRavi: $5.00\n"))
			})
		})

		When("no people are on the bill", func() {
			BeforeEach(func() {
				seedBill(&Bill{ID: "bill-1", Currency: "USD"})
			})

			It("should return status Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills/bill-1/summary")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleDeleteBill", func() {
		BeforeEach(func() {
			seedBill(&Bill{ID: "bill-1", Currency: "USD"})
		})

		It("should return status No Content", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/bills/bill-1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.bills).To(BeEmpty())
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		When("no credentials are provided", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/bills")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})
		})

		When("valid credentials are provided", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("wrong credentials are provided", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})
	})
})
