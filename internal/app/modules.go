package app

import (
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/modules/fromcsv"
	"github.com/vk/recsexplorer/modules/fromdb"
	"github.com/vk/recsexplorer/modules/fromenv"
	"github.com/vk/recsexplorer/modules/fromjsonarray"
	"github.com/vk/recsexplorer/modules/fromsplit"
	"github.com/vk/recsexplorer/modules/grep"
	"github.com/vk/recsexplorer/modules/head"
	"github.com/vk/recsexplorer/modules/sort"
)

// coreModules is the definitive list of all operations that are compiled
// into the recsexplorer binary.
var coreModules = []operation.Module{
	&grep.Module{},
	&sort.Module{},
	&head.Module{},
	&fromcsv.Module{},
	&fromjsonarray.Module{},
	&fromsplit.Module{},
	&fromdb.Module{},
	&fromenv.Module{},
}
