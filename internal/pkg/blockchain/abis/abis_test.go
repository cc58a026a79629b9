package abis

import "testing"

func TestGetAggregatorV3ABI(t *testing.T) {
	feed, err := GetAggregatorV3ABI()
	if err != nil {
		t.Fatalf("aggregator ABI: %v", err)
	}
	for _, m := range []string{"latestRoundData", "decimals", "description"} {
		if _, ok := feed.Methods[m]; !ok {
			t.Errorf("aggregator ABI missing %s", m)
		}
	}

	again, err := GetAggregatorV3ABI()
	if err != nil {
		t.Fatalf("aggregator ABI second load: %v", err)
	}
	if again != feed {
		t.Error("expected cached ABI instance")
	}
}

func TestGetMulticall3ABI(t *testing.T) {
	mc, err := GetMulticall3ABI()
	if err != nil {
		t.Fatalf("multicall3 ABI: %v", err)
	}
	if _, ok := mc.Methods["aggregate3"]; !ok {
		t.Error("multicall3 ABI missing aggregate3")
	}
}

func TestGetLoanBookABI(t *testing.T) {
	lb, err := GetLoanBookABI()
	if err != nil {
		t.Fatalf("loan book ABI: %v", err)
	}
	if got := len(lb.Methods["getLoan"].Outputs); got != 13 {
		t.Errorf("getLoan outputs = %d, want 13", got)
	}
}

func TestParseABI_Invalid(t *testing.T) {
	if _, err := ParseABI(`not json`); err == nil {
		t.Fatal("expected error for invalid ABI")
	}
}
