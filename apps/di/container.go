// Package di wires the app's repositories & services together.
package di

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/absence"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/teacher"
	"github.com/trezcool/cadenza/core/user"
	emailsvc "github.com/trezcool/cadenza/services/email"
	"github.com/trezcool/cadenza/storage/cache/rediscache"
	"github.com/trezcool/cadenza/storage/database"
	inmemdb "github.com/trezcool/cadenza/storage/database/inmem"
	sqlxrepos "github.com/trezcool/cadenza/storage/database/sqlx"
)

// Repositories groups the storage of every domain, all on the same database.
type Repositories struct {
	DB          core.Transactor
	Users       user.Repository
	Students    student.Repository
	Teachers    teacher.Repository
	Courses     course.Repository
	Pricing     pricing.Repository
	Enrollments enrollment.Repository
	Absences    absence.Repository
	Billing     billing.Repository

	close func() error
}

// Close releases the database connections, if any.
func (r Repositories) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

func MemoryRepositories() Repositories {
	db := inmemdb.NewDB()
	return Repositories{
		DB:          db,
		Users:       inmemdb.NewUserRepository(db),
		Students:    inmemdb.NewStudentRepository(db),
		Teachers:    inmemdb.NewTeacherRepository(db),
		Courses:     inmemdb.NewCourseRepository(db),
		Pricing:     inmemdb.NewPricingRepository(db),
		Enrollments: inmemdb.NewEnrollmentRepository(db),
		Absences:    inmemdb.NewAbsenceRepository(db),
		Billing:     inmemdb.NewBillingRepository(db),
	}
}

func SQLRepositories(db *database.DB) Repositories {
	return Repositories{
		DB:          db,
		Users:       sqlxrepos.NewUserRepository(db.DB),
		Students:    sqlxrepos.NewStudentRepository(db.DB),
		Teachers:    sqlxrepos.NewTeacherRepository(db.DB),
		Courses:     sqlxrepos.NewCourseRepository(db.DB),
		Pricing:     sqlxrepos.NewPricingRepository(db.DB),
		Enrollments: sqlxrepos.NewEnrollmentRepository(db.DB),
		Absences:    sqlxrepos.NewAbsenceRepository(db.DB),
		Billing:     sqlxrepos.NewBillingRepository(db.DB),
		close:       db.Close,
	}
}

// OpenRepositories sets up the configured database engine: postgres gets created & migrated first.
func OpenRepositories(ctx context.Context, conf *core.Config) (Repositories, error) {
	if conf.Database.Engine == "memory" {
		return MemoryRepositories(), nil
	}

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return Repositories{}, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return Repositories{}, errors.Wrap(err, "opening database")
	}
	if err = database.Migrate(db.DB.DB); err != nil {
		_ = db.Close()
		return Repositories{}, errors.Wrap(err, "migrating database")
	}
	return SQLRepositories(db), nil
}

// Services groups the app's services & their shared dependencies.
type Services struct {
	Conf       *core.Config
	Logger     core.Logger
	Mail       core.EmailService
	Validate   *validator.Validate
	Translator ut.Translator

	Users             user.Service
	Students          *student.Service
	Teachers          *teacher.Service
	Courses           *course.Service
	Pricing           *pricing.Service
	EnrollmentPricing *pricing.EnrollmentPricing
	Enrollments       *enrollment.Service
	Ledger            *billing.LedgerService
	Transactions      *billing.TransactionService
	Invoices          *billing.InvoiceService
	Absences          *absence.Service
}

// NewMailService returns the console service in debug, sendgrid otherwise.
func NewMailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// NewPricingCache returns the redis cache when configured; a nil cache disables caching.
// the returned closer must be called on shutdown.
func NewPricingCache(ctx context.Context, conf *core.Config) (pricing.Cache, func() error, error) {
	if conf.Redis.Addr == "" {
		return nil, func() error { return nil }, nil
	}
	rdb, err := rediscache.Connect(ctx, conf)
	if err != nil {
		return nil, nil, err
	}
	ttl := conf.Redis.PricingTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return rediscache.NewPricingCache(rdb, rediscache.WithTTL(ttl)), func() error { return closeRedis(rdb) }, nil
}

func closeRedis(rdb *redis.Client) error {
	return errors.Wrap(rdb.Close(), "closing redis")
}

// NewServices builds every service on repos.
func NewServices(
	conf *core.Config,
	logger core.Logger,
	mailSvc core.EmailService,
	repos Repositories,
	cache pricing.Cache,
) *Services {
	translator := core.NewTranslator()
	validate := core.NewValidate(translator)
	user.RegisterValidators(validate, translator)

	prices := pricing.NewService(repos.DB, repos.Pricing, repos.Courses, cache, logger)
	enrPricing := pricing.NewEnrollmentPricing(prices)
	ledger := billing.NewLedgerService(repos.DB, repos.Billing, repos.Students, logger)

	return &Services{
		Conf:       conf,
		Logger:     logger,
		Mail:       mailSvc,
		Validate:   validate,
		Translator: translator,

		Users:             user.NewService(repos.Users, mailSvc, conf),
		Students:          student.NewService(repos.Students),
		Teachers:          teacher.NewService(repos.Teachers),
		Courses:           course.NewService(repos.DB, repos.Courses, repos.Teachers),
		Pricing:           prices,
		EnrollmentPricing: enrPricing,
		Enrollments:       enrollment.NewService(repos.DB, repos.Enrollments, repos.Students, repos.Courses),
		Ledger:            ledger,
		Transactions:      billing.NewTransactionService(repos.Billing, repos.Students),
		Invoices: billing.NewInvoiceService(
			repos.DB, repos.Billing, repos.Students, repos.Enrollments, repos.Courses, enrPricing, ledger, mailSvc, conf, logger,
		),
		Absences: absence.NewService(
			repos.DB, repos.Absences, repos.Enrollments, repos.Courses, repos.Students, enrPricing, ledger,
			absence.CreditPolicy{
				Notice:   time.Duration(conf.Billing.AbsenceNoticeHours) * time.Hour,
				Location: conf.Scheduler.Location(),
			},
		),
	}
}

// NewTestServices runs the services on an in-memory database.
func NewTestServices(conf *core.Config, logger core.Logger, mailSvc core.EmailService) (*Services, Repositories) {
	repos := MemoryRepositories()
	return NewServices(conf, logger, mailSvc, repos, nil), repos
}
