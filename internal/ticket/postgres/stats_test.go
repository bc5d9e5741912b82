package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/frahmantamala/ssoflow/internal/ticket"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTicketRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TicketRepository Suite")
}

var _ = Describe("StatsRepository", func() {
	var (
		mock sqlmock.Sqlmock
		repo *StatsRepository
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		mock = m
		repo = NewStatsRepository(sqlx.NewDb(db, "pgx"))
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("folds status counts and the approval inbox into one summary", func() {
		mock.ExpectQuery(regexp.QuoteMeta(statusCountsQuery)).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
				AddRow("pending", 2).
				AddRow("approved", 3))
		mock.ExpectQuery(regexp.QuoteMeta(pendingApprovalQuery)).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

		stats, err := repo.UserStats(context.Background(), 7)

		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Total).To(Equal(int64(5)))
		Expect(stats.ByStatus).To(HaveLen(len(ticket.Statuses)))
		Expect(stats.ByStatus).To(HaveKeyWithValue("approved", int64(3)))
		Expect(stats.ByStatus).To(HaveKeyWithValue("draft", int64(0)))
		Expect(stats.PendingApproval).To(Equal(int64(4)))
	})

	It("returns the query error", func() {
		mock.ExpectQuery(regexp.QuoteMeta(statusCountsQuery)).WithArgs(int64(7)).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.UserStats(context.Background(), 7)

		Expect(err).To(MatchError(ContainSubstring("connection reset")))
	})
})
