package postgres_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/approval-workflow/internal"
	leaveDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/leave"
	"github.com/frahmantamala/approval-workflow/internal/leave"
	leavePostgres "github.com/frahmantamala/approval-workflow/internal/leave/postgres"
)

func TestLeaveRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Leave Postgres Suite")
}

var _ = Describe("LeaveRepository", func() {
	var (
		ctx  context.Context
		db   *gorm.DB
		repo *leavePostgres.LeaveRepository
		now  time.Time
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(&leaveDatamodel.LeaveRequest{})).To(Succeed())
		repo = leavePostgres.NewLeaveRepository(db)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	newRequest := func(userID int64, submitted time.Time) *leave.Request {
		return &leave.Request{
			UserID:      userID,
			LeaveType:   leave.TypeAnnual,
			StartDate:   now.AddDate(0, 0, 7),
			EndDate:     now.AddDate(0, 0, 9),
			Days:        3,
			Status:      leave.StatusPending,
			SubmittedAt: submitted,
			CreatedAt:   submitted,
			UpdatedAt:   submitted,
		}
	}

	It("creates and loads a request", func() {
		req := newRequest(3, now)
		Expect(repo.Create(ctx, req)).To(Succeed())
		Expect(req.ID).NotTo(BeZero())

		loaded, err := repo.GetByID(ctx, req.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.UserID).To(Equal(int64(3)))
		Expect(loaded.Status).To(Equal(leave.StatusPending))
		Expect(loaded.InstanceID).To(BeNil())
	})

	It("reports a missing request", func() {
		_, err := repo.GetByID(ctx, 404)
		Expect(internal.HasCode(err, internal.ErrCodeLeaveNotFound)).To(BeTrue())
	})

	It("lists newest first, per user or overall", func() {
		Expect(repo.Create(ctx, newRequest(3, now))).To(Succeed())
		Expect(repo.Create(ctx, newRequest(3, now.Add(time.Hour)))).To(Succeed())
		Expect(repo.Create(ctx, newRequest(4, now.Add(2*time.Hour)))).To(Succeed())

		mine, err := repo.ListByUser(ctx, 3, 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(mine).To(HaveLen(2))
		Expect(mine[0].SubmittedAt.After(mine[1].SubmittedAt)).To(BeTrue())

		all, err := repo.ListAll(ctx, 2, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
		Expect(all[0].UserID).To(Equal(int64(4)))
	})

	It("attaches the approval instance", func() {
		req := newRequest(3, now)
		Expect(repo.Create(ctx, req)).To(Succeed())

		Expect(repo.AttachInstance(ctx, req.ID, "3b8f7a64-5c1e-4d6f-9d0a-2f1e8c7b6a50")).To(Succeed())
		loaded, err := repo.GetByID(ctx, req.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*loaded.InstanceID).To(Equal("3b8f7a64-5c1e-4d6f-9d0a-2f1e8c7b6a50"))

		err = repo.AttachInstance(ctx, 404, "x")
		Expect(internal.HasCode(err, internal.ErrCodeLeaveNotFound)).To(BeTrue())
	})

	It("applies a status transition only once", func() {
		req := newRequest(3, now)
		Expect(repo.Create(ctx, req)).To(Succeed())

		changed, err := repo.Transition(ctx, req.ID, leave.StatusPending, leave.StatusApproved, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())

		changed, err = repo.Transition(ctx, req.ID, leave.StatusPending, leave.StatusWithdrawn, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeFalse())

		loaded, err := repo.GetByID(ctx, req.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Status).To(Equal(leave.StatusApproved))
		Expect(loaded.DecidedAt).NotTo(BeNil())
	})

	It("deletes a request", func() {
		req := newRequest(3, now)
		Expect(repo.Create(ctx, req)).To(Succeed())
		Expect(repo.Delete(ctx, req.ID)).To(Succeed())

		_, err := repo.GetByID(ctx, req.ID)
		Expect(internal.HasCode(err, internal.ErrCodeLeaveNotFound)).To(BeTrue())
	})
})
