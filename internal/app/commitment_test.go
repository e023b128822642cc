package app

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/domain"
)

func commitmentFixture() []domain.RewardAllocation {
	return []domain.RewardAllocation{
		{
			RecipientID:   uuid.MustParse("b0000000-0000-0000-0000-000000000002"),
			WalletAddress: "0xBBBB000000000000000000000000000000000002",
			AmountUnits:   "333333",
		},
		{
			RecipientID:   uuid.MustParse("a0000000-0000-0000-0000-000000000001"),
			WalletAddress: "0xAAAA000000000000000000000000000000000001",
			AmountUnits:   "333334",
		},
		{
			RecipientID:   uuid.MustParse("c0000000-0000-0000-0000-000000000003"),
			WalletAddress: "0xCCCC000000000000000000000000000000000003",
			AmountUnits:   "333333",
		},
	}
}

func TestAllocationCommitment_Format(t *testing.T) {
	root := AllocationCommitment(202536, commitmentFixture())
	if !strings.HasPrefix(root, "0x") {
		t.Fatalf("root %q missing 0x prefix", root)
	}
	if len(root) != 66 {
		t.Fatalf("root length = %d, want 66", len(root))
	}
}

func TestAllocationCommitment_OrderIndependent(t *testing.T) {
	allocs := commitmentFixture()
	reversed := []domain.RewardAllocation{allocs[2], allocs[0], allocs[1]}

	if got, want := AllocationCommitment(202536, reversed), AllocationCommitment(202536, allocs); got != want {
		t.Fatalf("commitment depends on retrieval order: %s vs %s", got, want)
	}
}

func TestAllocationCommitment_SensitiveToContents(t *testing.T) {
	allocs := commitmentFixture()
	base := AllocationCommitment(202536, allocs)

	changed := commitmentFixture()
	changed[0].AmountUnits = "333334"
	if AllocationCommitment(202536, changed) == base {
		t.Fatal("commitment unchanged after amount change")
	}

	if AllocationCommitment(202537, allocs) == base {
		t.Fatal("commitment unchanged across periods")
	}
}

func TestAllocationCommitment_CaseInsensitiveWallets(t *testing.T) {
	allocs := commitmentFixture()
	lowered := commitmentFixture()
	for i := range lowered {
		lowered[i].WalletAddress = strings.ToLower(lowered[i].WalletAddress)
	}
	if AllocationCommitment(202536, lowered) != AllocationCommitment(202536, allocs) {
		t.Fatal("commitment depends on wallet address casing")
	}
}

func TestAllocationCommitment_Empty(t *testing.T) {
	root := AllocationCommitment(202536, nil)
	if !strings.HasPrefix(root, "0x") || len(root) != 66 {
		t.Fatalf("empty commitment malformed: %q", root)
	}
	if root == AllocationCommitment(202537, nil) {
		t.Fatal("empty commitments collide across periods")
	}
}
