package status

import (
	"errors"
	"testing"
)

func TestFromErrors_AllNilIsOK(t *testing.T) {
	r := FromErrors(nil, nil)
	if !r.OK || len(r.Errors) != 0 {
		t.Fatalf("r = %+v", r)
	}
}

func TestFromErrors_CollectsMessages(t *testing.T) {
	r := FromErrors(errors.New("a"), nil, errors.New("b"))
	if r.OK {
		t.Fatalf("expected not-ok")
	}
	if len(r.Errors) != 2 || r.Errors[0] != "a" || r.Errors[1] != "b" {
		t.Fatalf("r = %+v", r)
	}
}

func TestCollector_EmptyIsOK(t *testing.T) {
	var c Collector
	if r := c.Result(); !r.OK {
		t.Fatalf("empty collector should be ok: %+v", r)
	}
}

func TestCollector_AccumulatesAcrossAdds(t *testing.T) {
	var c Collector
	c.Add(nil)
	c.Add(errors.New("boom"))
	c.Addf("account %s failed", "111111111111")
	r := c.Result()
	if r.OK || len(r.Errors) != 2 {
		t.Fatalf("r = %+v", r)
	}
}
