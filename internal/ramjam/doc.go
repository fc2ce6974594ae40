// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// ramjam is a sparse, demand allocated virtual block store. The device
// presents a fixed size logical address space whose backing pages are
// materialized lazily on first write and zero filled, so untouched regions
// read as zeros without consuming memory.
//
// Two coherent access paths are provided. The block path is byte range
// Read/Write over the whole space with clamping at capacity. The map path
// hands out bounded views whose pages fault in on first access, mimicking
// demand paging without hardware page tables. Both paths funnel every byte
// copy through the page table guards, so a byte written through one path is
// immediately visible through the other.
//
// ramjam defines two interfaces. One for page buffer allocation and one for
// the fault capability of views. Both can be trivially changed just by
// implementing the corresponding interface.
package ramjam
