package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmops/pkg/config"
	"farmops/services/scoring"
	"farmops/services/testutil"
	"farmops/services/tracker"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type resolverMock struct {
	multiplier float64
	err        error
}

func (m *resolverMock) UpgradeMultiplier(ctx context.Context, orgID string, taskType scoring.TaskType) (float64, error) {
	return m.multiplier, m.err
}

type walletFixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  *Service
}

func newWalletFixture(t *testing.T, mode string, resolver UpgradeResolver) *walletFixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&tracker.Organization{}, &tracker.User{}, &tracker.OrgMember{},
		&tracker.Repository{}, &tracker.Task{},
		&scoring.ConfigEntry{},
		&Wallet{}, &Reward{}, &Purchase{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Tracker.VerificationMode = mode

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Scoring:  scoring.NewService(scoring.ServiceParams{DB: db}),
		Upgrades: resolver,
	})

	return &walletFixture{db: db, node: node, svc: svc}
}

func (f *walletFixture) seedMember(t *testing.T, orgID, userID string, joinedAt time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&tracker.OrgMember{
		ID:        f.node.Generate().String(),
		UserID:    userID,
		OrgID:     orgID,
		CreatedAt: joinedAt,
	}).Error)
}

type taskSeed struct {
	orgID    string
	taskType scoring.TaskType
	status   tracker.TaskStatus
	prMerged bool
	ciPassed bool
	loc      *int
}

func (f *walletFixture) seedTask(t *testing.T, seed taskSeed) *tracker.Task {
	t.Helper()

	status := seed.status
	if status == "" {
		status = tracker.StatusInProgress
	}
	tsk := &tracker.Task{
		ID:           f.node.Generate().String(),
		OrgID:        seed.orgID,
		RepoID:       "repo-1",
		SourceType:   tracker.SourcePullRequest,
		GithubNumber: 42,
		GithubNodeID: "PR_" + f.node.Generate().String(),
		Title:        "chore: upgrade runtime",
		Status:       status,
		TaskType:     seed.taskType,
		PRMerged:     seed.prMerged,
		CIPassed:     seed.ciPassed,
		LOCChanged:   seed.loc,
		OpenedAt:     time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, f.db.Create(tsk).Error)
	return tsk
}

func (f *walletFixture) balanceOf(t *testing.T, userID, orgID *string) int64 {
	t.Helper()
	balance, err := f.svc.Balance(context.Background(), userID, orgID)
	require.NoError(t, err)
	return balance
}

func strPtr(s string) *string { return &s }
func intPtr(v int) *int       { return &v }

func TestSettleCreditsBothLedgers(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	f.seedMember(t, "org-1", "user-1", time.Now())
	tsk := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskMaintenance, prMerged: true, loc: intPtr(80)})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var settled tracker.Task
	require.NoError(t, f.db.First(&settled, "id = ?", tsk.ID).Error)
	require.Equal(t, tracker.StatusDone, settled.Status)
	require.NotNil(t, settled.ClosedAt)

	var reward Reward
	require.NoError(t, f.db.First(&reward, "task_id = ?", tsk.ID).Error)
	require.Equal(t, "user-1", reward.UserID)
	require.Equal(t, 10.0, reward.BaseCoins)
	require.Equal(t, 1.0, reward.VerificationMultiplier)
	require.Equal(t, int64(10), reward.TotalCoins)

	require.Equal(t, int64(10), f.balanceOf(t, strPtr("user-1"), nil))
	require.Equal(t, int64(10), f.balanceOf(t, nil, strPtr("org-1")))
}

func TestSettleChecksModeRequiresCI(t *testing.T) {
	f := newWalletFixture(t, "checks", nil)
	f.seedMember(t, "org-1", "user-1", time.Now())
	tsk := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskMaintenance, prMerged: true, ciPassed: false})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var count int64
	require.NoError(t, f.db.Model(&Reward{}).Count(&count).Error)
	require.Zero(t, count)

	require.NoError(t, f.db.Model(&tracker.Task{}).Where("id = ?", tsk.ID).Update("ci_passed", true).Error)
	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var reward Reward
	require.NoError(t, f.db.First(&reward, "task_id = ?", tsk.ID).Error)
	require.Equal(t, 1.25, reward.VerificationMultiplier)
	require.Equal(t, int64(13), reward.TotalCoins) // round(12.5) away from zero
}

func TestSettleIsIdempotent(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	f.seedMember(t, "org-1", "user-1", time.Now())
	tsk := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, prMerged: true})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))
	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var count int64
	require.NoError(t, f.db.Model(&Reward{}).Where("task_id = ?", tsk.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)

	require.Equal(t, int64(15), f.balanceOf(t, strPtr("user-1"), nil))
	require.Equal(t, int64(15), f.balanceOf(t, nil, strPtr("org-1")))
}

func TestSettlePreconditionNoOps(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	f.seedMember(t, "org-1", "user-1", time.Now())

	// Unknown task.
	require.NoError(t, f.svc.Settle(context.Background(), "no-such-task"))

	// Not merged.
	unmerged := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, prMerged: false})
	require.NoError(t, f.svc.Settle(context.Background(), unmerged.ID))

	// Already DONE.
	done := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, status: tracker.StatusDone, prMerged: true})
	require.NoError(t, f.svc.Settle(context.Background(), done.ID))

	var count int64
	require.NoError(t, f.db.Model(&Reward{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSettleWithoutMemberSkips(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	tsk := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, prMerged: true})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var count int64
	require.NoError(t, f.db.Model(&Reward{}).Count(&count).Error)
	require.Zero(t, count)

	var settled tracker.Task
	require.NoError(t, f.db.First(&settled, "id = ?", tsk.ID).Error)
	require.NotEqual(t, tracker.StatusDone, settled.Status)
}

func TestSettleCreditsEarliestMember(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	now := time.Now()
	f.seedMember(t, "org-1", "user-late", now)
	f.seedMember(t, "org-1", "user-early", now.Add(-time.Hour))
	tsk := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, prMerged: true})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var reward Reward
	require.NoError(t, f.db.First(&reward, "task_id = ?", tsk.ID).Error)
	require.Equal(t, "user-early", reward.UserID)
}

type resolverFunc func(ctx context.Context, orgID string, taskType scoring.TaskType) (float64, error)

func (f resolverFunc) UpgradeMultiplier(ctx context.Context, orgID string, taskType scoring.TaskType) (float64, error) {
	return f(ctx, orgID, taskType)
}

func TestSettleLosesRaceToExistingReward(t *testing.T) {
	var f *walletFixture
	var tsk *tracker.Task

	// The resolver runs after the reward pre-check and before the
	// transaction; a rival settlement landing in that window must make this
	// attempt a no-op via the in-transaction revalidation.
	resolver := resolverFunc(func(ctx context.Context, orgID string, taskType scoring.TaskType) (float64, error) {
		require.NoError(t, f.db.Create(&Reward{
			ID:         "rival",
			TaskID:     tsk.ID,
			UserID:     "user-2",
			TotalCoins: 15,
		}).Error)
		return 1.0, nil
	})

	f = newWalletFixture(t, "merge_only", resolver)
	f.seedMember(t, "org-1", "user-1", time.Now())
	tsk = f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, prMerged: true})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var rewards []Reward
	require.NoError(t, f.db.Find(&rewards).Error)
	require.Len(t, rewards, 1)
	require.Equal(t, "rival", rewards[0].ID)

	// The losing attempt credited nothing.
	require.Equal(t, int64(0), f.balanceOf(t, strPtr("user-1"), nil))
	require.Equal(t, int64(0), f.balanceOf(t, nil, strPtr("org-1")))
}

func TestSettleAppliesUpgradeMultiplier(t *testing.T) {
	f := newWalletFixture(t, "checks", &resolverMock{multiplier: 1.875})
	f.seedMember(t, "org-1", "user-1", time.Now())
	tsk := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskSecurity, prMerged: true, ciPassed: true})

	require.NoError(t, f.svc.Settle(context.Background(), tsk.ID))

	var reward Reward
	require.NoError(t, f.db.First(&reward, "task_id = ?", tsk.ID).Error)
	require.Equal(t, 1.875, reward.UpgradeMultiplier)
	// 25 * 1.25 * 1.0 * 1.875 = 58.59375
	require.Equal(t, int64(59), reward.TotalCoins)
}

func TestSettleAccumulatesAcrossTasks(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	f.seedMember(t, "org-1", "user-1", time.Now())

	first := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskMaintenance, prMerged: true})
	second := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskReliability, prMerged: true, loc: intPtr(620)})

	require.NoError(t, f.svc.Settle(context.Background(), first.ID))
	require.NoError(t, f.svc.Settle(context.Background(), second.ID))

	// 10 + round(20 * 1.2) = 10 + 24
	require.Equal(t, int64(34), f.balanceOf(t, strPtr("user-1"), nil))
	require.Equal(t, int64(34), f.balanceOf(t, nil, strPtr("org-1")))
}

func TestRecomputeAllRepairsDrift(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	f.seedMember(t, "org-1", "user-1", time.Now())

	first := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskToil, prMerged: true})
	second := f.seedTask(t, taskSeed{orgID: "org-1", taskType: scoring.TaskSecurity, prMerged: true})
	require.NoError(t, f.svc.Settle(context.Background(), first.ID))  // 15
	require.NoError(t, f.svc.Settle(context.Background(), second.ID)) // 25

	var orgWallet Wallet
	require.NoError(t, f.db.First(&orgWallet, "org_id = ?", "org-1").Error)
	require.NoError(t, f.db.Create(&Purchase{
		ID:         f.node.Generate().String(),
		WalletID:   orgWallet.ID,
		OrgID:      "org-1",
		ShopItemID: "item-1",
		Level:      1,
		Cost:       30,
	}).Error)

	// Corrupt both balances, then reconcile.
	require.NoError(t, f.db.Model(&Wallet{}).Where("user_id = ?", "user-1").Update("balance", 9999).Error)
	require.NoError(t, f.db.Model(&Wallet{}).Where("org_id = ?", "org-1").Update("balance", -5).Error)

	require.NoError(t, f.svc.RecomputeAll(context.Background()))

	require.Equal(t, int64(40), f.balanceOf(t, strPtr("user-1"), nil))
	require.Equal(t, int64(10), f.balanceOf(t, nil, strPtr("org-1"))) // 40 earned - 30 spent
}

func TestRecomputeEmptyHistoryZeroes(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)

	require.NoError(t, f.db.Create(&Wallet{
		ID:      f.node.Generate().String(),
		UserID:  strPtr("user-ghost"),
		Balance: 123,
	}).Error)

	require.NoError(t, f.svc.RecomputeAll(context.Background()))
	require.Equal(t, int64(0), f.balanceOf(t, strPtr("user-ghost"), nil))
}

func TestBalanceUnknownOwnerReadsZero(t *testing.T) {
	f := newWalletFixture(t, "merge_only", nil)
	require.Equal(t, int64(0), f.balanceOf(t, strPtr("nobody"), nil))
}
