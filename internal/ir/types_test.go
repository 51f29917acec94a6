package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition_TilesRange(t *testing.T) {
	for n := uint32(0); n <= 37; n++ {
		for numNodes := 1; numNodes <= 9; numNodes++ {
			covered := make([]int, n)
			prevEnd := uint32(0)
			for node := 0; node < numNodes; node++ {
				start, end := Partition(n, node, numNodes)
				require.Equal(t, prevEnd, start, "n=%d nodes=%d node=%d leaves a gap", n, numNodes, node)
				require.LessOrEqual(t, start, end)
				for i := start; i < end; i++ {
					covered[i]++
				}
				prevEnd = end
			}
			assert.Equal(t, n, prevEnd, "n=%d nodes=%d must end at n", n, numNodes)
			for i, c := range covered {
				assert.Equal(t, 1, c, "index %d covered %d times (n=%d nodes=%d)", i, c, n, numNodes)
			}
		}
	}
}

func TestPartition_EvenSplitFormula(t *testing.T) {
	start, end := Partition(10, 1, 3)
	assert.Equal(t, uint32(3), start)
	assert.Equal(t, uint32(6), end)

	start, end = Partition(10, 2, 3)
	assert.Equal(t, uint32(6), start)
	assert.Equal(t, uint32(10), end)
}

func TestPartition_Idempotent(t *testing.T) {
	s1, e1 := Partition(100, 2, 7)
	s2, e2 := Partition(100, 2, 7)
	assert.Equal(t, s1, s2)
	assert.Equal(t, e1, e2)
}

func TestNodeOf_MatchesPartition(t *testing.T) {
	const n = 23
	for numNodes := 1; numNodes <= 6; numNodes++ {
		for node := 0; node < numNodes; node++ {
			start, end := Partition(n, node, numNodes)
			for i := start; i < end; i++ {
				assert.Equal(t, node, NodeOf(i, n, numNodes), "index %d nodes=%d", i, numNodes)
			}
		}
		assert.Equal(t, -1, NodeOf(n, n, numNodes))
	}
}

func TestExecThread_ExactlyOneOwner(t *testing.T) {
	const numThreads = 4
	for e := ElementID(0); e < 5; e++ {
		for i := uint32(0); i < 20; i++ {
			owners := 0
			for th := 0; th < numThreads; th++ {
				p := ProcInfo{Thread: th, NumThreads: numThreads}
				if p.ExecThread(e, i) {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "element %d index %d", e, i)
		}
	}
}

func TestExecThread_SingleThreadOwnsAll(t *testing.T) {
	p := ProcInfo{Thread: 0, NumThreads: 1}
	assert.True(t, p.ExecThread(7, 12345))
}

func TestSentinels(t *testing.T) {
	assert.True(t, BadData().IsBad())
	assert.False(t, Data(0).IsBad())
	assert.True(t, BadObj().IsBad())
	assert.True(t, ObjID{Element: 3, Data: BadData()}.IsBad())
	assert.False(t, Obj(3, 1).IsBad())
	assert.Equal(t, MsgID(0), BadMsg)
}

func TestObjID_String(t *testing.T) {
	assert.Equal(t, "#3[1]", Obj(3, 1).String())
	assert.Equal(t, "#3[1][4]", ObjID{Element: 3, Data: FieldData(1, 4)}.String())
	assert.Equal(t, "#bad[bad]", BadObj().String())
}
