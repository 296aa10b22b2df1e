package bill

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename string
			saved    string
			err      error
		)

		BeforeEach(func() {
			filename = "bill-1.jpg"
		})

		JustBeforeEach(func() {
			saved, err = storage.Save(filename, []byte("image bytes"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the key", func() {
				Expect(saved).To(Equal(filename))
			})

			It("should write the file to disk", func() {
				Expect(filepath.Join(tmpDir, filename)).To(BeAnExistingFile())
			})
		})

		When("the name contains a path separator", func() {
			BeforeEach(func() {
				filename = "../escape.jpg"
			})

			It("should reject the key", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid storage key"))
			})

			It("should not write outside the base directory", func() {
				Expect(filepath.Join(tmpDir, "..", "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is hidden", func() {
			BeforeEach(func() {
				filename = ".sneaky"
			})

			It("should reject the key", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Get", func() {
		var (
			key  string
			data []byte
			err  error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(key)
		})

		When("the file exists", func() {
			BeforeEach(func() {
				key = "bill-1.jpg"
				_, saveErr := storage.Save(key, []byte("image bytes"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file data", func() {
				Expect(string(data)).To(Equal("image bytes"))
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				key = "nonexistent.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("reading file"))
			})
		})

		When("the key tries to traverse upward", func() {
			BeforeEach(func() {
				key = "../../etc/passwd"
			})

			It("should reject the key", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid storage key"))
			})
		})
	})

	Describe("Delete", func() {
		var (
			key string
			err error
		)

		JustBeforeEach(func() {
			err = storage.Delete(key)
		})

		When("the file exists", func() {
			BeforeEach(func() {
				key = "bill-1.jpg"
				_, saveErr := storage.Save(key, []byte("image bytes"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the file from disk", func() {
				Expect(filepath.Join(tmpDir, key)).NotTo(BeAnExistingFile())
			})
		})

		When("the file is already gone", func() {
			BeforeEach(func() {
				key = "nonexistent.jpg"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("NewLocalStorage", func() {
		When("the directory does not exist", func() {
			It("should create it", func() {
				base := filepath.Join(GinkgoT().TempDir(), "images")
				created, err := NewLocalStorage(base)
				Expect(err).NotTo(HaveOccurred())
				Expect(base).To(BeADirectory())
				_, err = created.Save("bill-1.jpg", []byte("data"))
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})
})
